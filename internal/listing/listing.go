package listing

import "time"

// JobRecord is one job posting as produced by an extractor. No field is
// assumed well-formed: any of them may be empty, and the salary bounds are
// only present when the extractor managed to parse them.
type JobRecord struct {
	CompanyTitle       string `json:"companyTitle"`
	JobRole            string `json:"jobRole"`
	JobLocation        string `json:"jobLocation"`
	EmploymentType     string `json:"employmentType"`
	SalaryRange        string `json:"salaryRange"`
	MinSalary          *int64 `json:"minSalary"`
	MaxSalary          *int64 `json:"maxSalary"`
	RequiredExperience string `json:"requiredExperience"`
	SeniorityLevel     string `json:"seniorityLevel"`
	JobDescription     string `json:"jobDescription"`
	DatePosted         string `json:"datePosted"`
	PostingURL         string `json:"postingUrl"`
	HiringTeam         string `json:"hiringTeam"`
	AboutCompany       string `json:"aboutCompany"`
	Source             string `json:"scraper_source"`
}

// Listing is a persisted job posting.
type Listing struct {
	ID        int64     `json:"id"`
	JobRecord
	ScrapedAt time.Time `json:"scrapedAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
