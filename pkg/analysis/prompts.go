package analysis

import "fmt"

const analysisSystemPrompt = "You are an acquisitions editor at a literary agency. " +
	"You read manuscript excerpts and place them in the current market. " +
	"Respond with a single JSON object and nothing else."

const metadataSystemPrompt = "You are a publishing industry researcher. Respond with a single JSON object and nothing else."

const detailsSystemPrompt = "You are a literary agent's assistant analyzing book manuscripts. Extract key details in JSON format."

func buildAnalysisPrompt(excerpt, synopsis string) string {
	return fmt.Sprintf(`Analyze the following book text and synopsis. Identify the genre, the main themes and tropes, three comparable published books that defined the category and three comparable books published in the last five years.

Text: %s

Synopsis: %s

Provide the analysis in the following JSON format:
{
  "genre": "Genre name",
  "themes": ["Theme 1", "Theme 2", "Theme 3"],
  "tropes": ["Trope 1", "Trope 2", "Trope 3"],
  "bestComps": [
    {"title": "Title", "author": "Author", "year": 2015, "publisher": "Imprint", "estimatedSales": "500,000", "bestseller": true, "marketingSummary": "How it launched", "reason": "Why it compares"}
  ],
  "recentComps": [
    {"title": "Title", "author": "Author", "year": 2023, "publisher": "Imprint", "estimatedSales": "50,000", "bestseller": false, "marketingSummary": "How it launched", "reason": "Why it compares"}
  ]
}`, excerpt, synopsis)
}

func buildMetadataPrompt(title string) string {
	return fmt.Sprintf(`Provide detailed publication information for the book '%s'. Include the following information in JSON format:
{
  "title": "Full title",
  "author": "Author name",
  "imprint": "Publishing house/imprint",
  "publicationDate": "YYYY-MM-DD",
  "nytBestseller": true,
  "copiesSold": "Approximate number",
  "marketingStrategy": "Brief summary of launch marketing strategy"
}`, title)
}

func buildDetailsPrompt(excerpt string) string {
	return "Analyze this manuscript excerpt and provide key details in JSON format with the following fields: " +
		"title, genre, targetAudience, comparableTitles (array), marketPotential, uniqueSellingPoints (array).\n\nText: " + excerpt
}
