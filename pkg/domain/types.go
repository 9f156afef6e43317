package domain

import "time"

type SubmissionStatus string

const (
	StatusUploaded   SubmissionStatus = "uploaded"
	StatusProcessing SubmissionStatus = "processing"
	StatusCompleted  SubmissionStatus = "completed"
	StatusError      SubmissionStatus = "error"
)

// Terminal reports whether no further automatic transition leaves s.
func (s SubmissionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// AnalysisSchemaVersion is the version stamped on every stored AnalysisResult.
const AnalysisSchemaVersion = 1

type Submission struct {
	ID          string           `json:"id"`
	Synopsis    string           `json:"synopsis"`
	Text        string           `json:"text"`
	FileName    string           `json:"fileName"`
	FileSize    int64            `json:"fileSize"`
	StorageKey  string           `json:"-"`
	Status      SubmissionStatus `json:"status"`
	Attempts    int              `json:"attempts"`
	Analysis    *AnalysisResult  `json:"analysis,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

type AnalysisResult struct {
	SchemaVersion int               `json:"schemaVersion"`
	Genre         string            `json:"genre" validate:"required"`
	Themes        []string          `json:"themes" validate:"min=1,dive,required"`
	Tropes        []string          `json:"tropes,omitempty"`
	BestComps     []ComparableTitle `json:"bestComps"`
	RecentComps   []ComparableTitle `json:"recentComps"`
}

type ComparableTitle struct {
	Title            string `json:"title" validate:"required"`
	Author           string `json:"author,omitempty"`
	Year             int    `json:"year,omitempty"`
	Publisher        string `json:"publisher,omitempty"`
	EstimatedSales   string `json:"estimatedSales,omitempty"`
	Bestseller       *bool  `json:"bestseller,omitempty"`
	MarketingSummary string `json:"marketingSummary,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// SubmissionPatch carries the mutable fields of a Submission. Nil fields are
// left untouched.
type SubmissionPatch struct {
	Status      *SubmissionStatus
	Attempts    *int
	Analysis    *AnalysisResult
	Error       *string
	CompletedAt *time.Time
	StorageKey  *string

	// ClearAnalysis removes a stored analysis.
	ClearAnalysis bool
}

// ClaimPatch moves a submission into processing and records the attempt.
func ClaimPatch(attempts int) SubmissionPatch {
	status := StatusProcessing
	return SubmissionPatch{Status: &status, Attempts: &attempts}
}

// CompletedPatch stores a successful analysis. The error field is cleared so
// that analysis and error are never both present.
func CompletedPatch(result AnalysisResult, at time.Time) SubmissionPatch {
	status := StatusCompleted
	empty := ""
	return SubmissionPatch{Status: &status, Analysis: &result, Error: &empty, CompletedAt: &at}
}

// FailedPatch records a terminal failure and drops any analysis.
func FailedPatch(msg string, at time.Time) SubmissionPatch {
	status := StatusError
	if msg == "" {
		msg = "analysis failed"
	}
	return SubmissionPatch{Status: &status, Error: &msg, CompletedAt: &at, ClearAnalysis: true}
}

// Apply merges p into s.
func (p SubmissionPatch) Apply(s *Submission) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Attempts != nil {
		s.Attempts = *p.Attempts
	}
	if p.ClearAnalysis {
		s.Analysis = nil
	}
	if p.Analysis != nil {
		a := *p.Analysis
		s.Analysis = &a
	}
	if p.Error != nil {
		s.Error = *p.Error
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		s.CompletedAt = &t
	}
	if p.StorageKey != nil {
		s.StorageKey = *p.StorageKey
	}
}

type EmailSignup struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	SubmissionID string    `json:"submissionId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// BookMetadata describes a published title looked up by name.
type BookMetadata struct {
	Title             string `json:"title"`
	Author            string `json:"author"`
	Imprint           string `json:"imprint"`
	PublicationDate   string `json:"publicationDate"`
	NYTBestseller     bool   `json:"nytBestseller"`
	CopiesSold        string `json:"copiesSold"`
	MarketingStrategy string `json:"marketingStrategy"`
}

// BookDetails is a quick market read of a manuscript excerpt.
type BookDetails struct {
	Title               string   `json:"title" validate:"required"`
	Genre               string   `json:"genre" validate:"required"`
	TargetAudience      string   `json:"targetAudience"`
	ComparableTitles    []string `json:"comparableTitles"`
	MarketPotential     string   `json:"marketPotential"`
	UniqueSellingPoints []string `json:"uniqueSellingPoints"`
}
