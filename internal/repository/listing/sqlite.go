package listing

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	domain "github.com/jobgtm/jobs-ingest/internal/listing"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const insertQuery = `INSERT OR IGNORE INTO job_listings
	(company_title, job_role, job_location, employment_type,
	 salary_range, min_salary, max_salary,
	 required_experience, seniority_level, job_description,
	 date_posted, posting_url, hiring_team, about_company,
	 scraper_source, scraped_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// UpsertBatch inserts rows one by one so a single row's outcome never taints
// its neighbours: RowsAffected == 0 means a uniqueness constraint absorbed
// the row (duplicate), an exec error marks only that row failed.
func (r *Repository) UpsertBatch(ctx context.Context, records []domain.JobRecord) (domain.BatchResult, error) {
	var result domain.BatchResult
	if len(records) == 0 {
		return result, nil
	}

	scrapedAt := time.Now().UTC().Format(time.RFC3339)

	for i, rec := range records {
		res, err := r.db.ExecContext(ctx, insertQuery,
			rec.CompanyTitle, rec.JobRole, rec.JobLocation, rec.EmploymentType,
			rec.SalaryRange, rec.MinSalary, rec.MaxSalary,
			rec.RequiredExperience, rec.SeniorityLevel, rec.JobDescription,
			rec.DatePosted, rec.PostingURL, rec.HiringTeam, rec.AboutCompany,
			rec.Source, scrapedAt,
		)
		if err != nil {
			slog.Error("insert listing", "source", rec.Source, "url", rec.PostingURL, "error", err)
			result.Failed = append(result.Failed, i)
			continue
		}

		n, err := res.RowsAffected()
		if err != nil {
			result.Failed = append(result.Failed, i)
			continue
		}
		if n == 0 {
			result.Duplicates++
		} else {
			result.Inserted++
		}
	}

	return result, nil
}

const selectColumns = `id, company_title, job_role, job_location, employment_type,
	salary_range, min_salary, max_salary,
	required_experience, seniority_level, job_description,
	date_posted, posting_url, hiring_team, about_company,
	scraper_source, scraped_at, created_at, updated_at`

func (r *Repository) List(ctx context.Context, source string, limit int) ([]domain.Listing, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf("SELECT %s FROM job_listings WHERE 1=1", selectColumns)
	var args []any
	if source != "" {
		query += " AND scraper_source = ?"
		args = append(args, source)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_listings").Scan(&n); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}

func scanListing(rows *sql.Rows) (domain.Listing, error) {
	var l domain.Listing
	var minSalary, maxSalary sql.NullInt64
	var scrapedStr, createdStr, updatedStr string

	if err := rows.Scan(
		&l.ID, &l.CompanyTitle, &l.JobRole, &l.JobLocation, &l.EmploymentType,
		&l.SalaryRange, &minSalary, &maxSalary,
		&l.RequiredExperience, &l.SeniorityLevel, &l.JobDescription,
		&l.DatePosted, &l.PostingURL, &l.HiringTeam, &l.AboutCompany,
		&l.Source, &scrapedStr, &createdStr, &updatedStr,
	); err != nil {
		return domain.Listing{}, fmt.Errorf("scan listing: %w", err)
	}

	if minSalary.Valid {
		l.MinSalary = &minSalary.Int64
	}
	if maxSalary.Valid {
		l.MaxSalary = &maxSalary.Int64
	}
	l.ScrapedAt, _ = time.Parse(time.RFC3339, scrapedStr)
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	l.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return l, nil
}
