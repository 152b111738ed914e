package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-acquirer/internal/model"
	"github.com/sells-group/filing-acquirer/internal/resilience"
)

// PostgresRepository is the production Repository backend.
type PostgresRepository struct {
	pool Pool
}

// NewPostgresRepository wraps an existing pool. Callers run Migrate
// separately before using it.
func NewPostgresRepository(pool Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) UpsertEntity(ctx context.Context, marketType model.MarketType, marketEntityID, companyName string) (model.Entity, error) {
	id := uuid.New().String()
	var e model.Entity
	err := r.pool.QueryRow(ctx, `
		INSERT INTO filings.entities (entity_id, market_type, market_entity_id, company_name, status)
		VALUES ($1, $2, $3, $4, 'active')
		ON CONFLICT (market_type, market_entity_id)
		DO UPDATE SET company_name = EXCLUDED.company_name
		RETURNING entity_id, market_type, market_entity_id, company_name, status, created_at`,
		id, marketType, marketEntityID, companyName,
	).Scan(&e.EntityID, &e.MarketType, &e.MarketEntityID, &e.CompanyName, &e.Status, &e.CreatedAt)
	if err != nil {
		return model.Entity{}, eris.Wrapf(err, "db: upsert entity %s/%s", marketType, marketEntityID)
	}
	return e, nil
}

func (r *PostgresRepository) GetEntity(ctx context.Context, entityID string) (model.Entity, error) {
	var e model.Entity
	err := r.pool.QueryRow(ctx, `
		SELECT entity_id, market_type, market_entity_id, company_name, status, created_at
		FROM filings.entities WHERE entity_id = $1`, entityID,
	).Scan(&e.EntityID, &e.MarketType, &e.MarketEntityID, &e.CompanyName, &e.Status, &e.CreatedAt)
	if err != nil {
		return model.Entity{}, eris.Wrapf(err, "db: get entity %s", entityID)
	}
	return e, nil
}

func (r *PostgresRepository) CreateFilingSearch(ctx context.Context, f model.FilingSearch) (bool, error) {
	if f.SearchID == "" {
		f.SearchID = uuid.New().String()
	}
	meta, err := json.Marshal(f.SearchMetadata)
	if err != nil {
		return false, eris.Wrap(err, "db: marshal search metadata")
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO filings.filing_searches
			(search_id, entity_id, market_type, form_type, filing_date, filing_url,
			 accession_number, search_metadata, download_status, extraction_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', 'pending')
		ON CONFLICT (entity_id, accession_number) DO NOTHING`,
		f.SearchID, f.EntityID, f.MarketType, f.FormType, f.FilingDate, f.FilingURL,
		f.AccessionNumber, meta,
	)
	if err != nil {
		return false, eris.Wrapf(err, "db: create filing search %s", f.AccessionNumber)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) GetPendingDownloads(ctx context.Context, limit int) ([]model.FilingSearch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT search_id, entity_id, market_type, form_type, filing_date, filing_url,
		       accession_number, search_metadata, download_status, extraction_status,
		       coalesce(error_stage, ''), coalesce(error_message, ''), attempt_count, created_at, updated_at
		FROM filings.filing_searches
		WHERE download_status IN ('pending', 'failed')
		ORDER BY (download_status = 'failed') DESC, created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "db: query pending filing downloads")
	}
	defer rows.Close()

	var out []model.FilingSearch
	for rows.Next() {
		var f model.FilingSearch
		var meta []byte
		if err := rows.Scan(&f.SearchID, &f.EntityID, &f.MarketType, &f.FormType, &f.FilingDate,
			&f.FilingURL, &f.AccessionNumber, &meta, &f.DownloadStatus, &f.ExtractionStatus,
			&f.ErrorStage, &f.ErrorMessage, &f.AttemptCount, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "db: scan filing search")
		}
		_ = json.Unmarshal(meta, &f.SearchMetadata)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetFilingSearch(ctx context.Context, searchID string) (model.FilingSearch, error) {
	var f model.FilingSearch
	var meta []byte
	err := r.pool.QueryRow(ctx, `
		SELECT search_id, entity_id, market_type, form_type, filing_date, filing_url,
		       accession_number, search_metadata, download_status, extraction_status,
		       coalesce(error_stage, ''), coalesce(error_message, ''), attempt_count, created_at, updated_at
		FROM filings.filing_searches WHERE search_id = $1`, searchID,
	).Scan(&f.SearchID, &f.EntityID, &f.MarketType, &f.FormType, &f.FilingDate,
		&f.FilingURL, &f.AccessionNumber, &meta, &f.DownloadStatus, &f.ExtractionStatus,
		&f.ErrorStage, &f.ErrorMessage, &f.AttemptCount, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return model.FilingSearch{}, eris.Wrapf(err, "db: get filing search %s", searchID)
	}
	_ = json.Unmarshal(meta, &f.SearchMetadata)
	return f, nil
}

// ClaimDownload implements the conditional UPDATE ownership mechanism: only a
// row whose download_status is still pending or failed is moved to downloading.
func (r *PostgresRepository) ClaimDownload(ctx context.Context, searchID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE filings.filing_searches
		SET download_status = 'downloading', updated_at = now()
		WHERE search_id = $1 AND download_status IN ('pending', 'failed')`, searchID)
	if err != nil {
		return false, eris.Wrapf(err, "db: claim download %s", searchID)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) CompleteFilingDownload(ctx context.Context, searchID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE filings.filing_searches
		SET download_status = 'completed', extraction_status = 'completed', updated_at = now()
		WHERE search_id = $1`, searchID)
	if err != nil {
		return eris.Wrapf(err, "db: complete filing download %s", searchID)
	}
	return nil
}

func (r *PostgresRepository) FailFilingDownload(ctx context.Context, searchID string, stage model.ErrorStage, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE filings.filing_searches
		SET download_status = 'failed', error_stage = $2, error_message = $3,
		    attempt_count = attempt_count + 1, updated_at = now()
		WHERE search_id = $1`, searchID, string(stage), message)
	if err != nil {
		return eris.Wrapf(err, "db: fail filing download %s", searchID)
	}
	return nil
}

func (r *PostgresRepository) CreateDownloadedFiling(ctx context.Context, d model.DownloadedFiling) error {
	if d.FilingID == "" {
		d.FilingID = uuid.New().String()
	}
	var instanceFile any
	if d.InstanceFilePath != "" {
		instanceFile = d.InstanceFilePath
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO filings.downloaded_filings
			(filing_id, search_id, entity_id, download_directory, instance_file_path, download_completed_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		d.FilingID, d.SearchID, d.EntityID, d.DownloadDirectory, instanceFile,
	)
	if err != nil {
		return eris.Wrapf(err, "db: create downloaded filing for search %s", d.SearchID)
	}
	return nil
}

// UpsertTaxonomyLibrary implements the Search Orchestrator's direct taxonomy
// persistence contract (spec §4.15): rejects reserved "unknown" identities
// as a no-op, otherwise inserts or appends RequiredBy to an existing row.
func (r *PostgresRepository) UpsertTaxonomyLibrary(ctx context.Context, lib model.TaxonomyLibrary, requiredBy string) (bool, bool, error) {
	if lib.IsUnknown() {
		return false, true, nil
	}

	id := lib.LibraryID
	if id == "" {
		id = uuid.New().String()
	}

	var requiredByArr []string
	if requiredBy != "" {
		requiredByArr = []string{requiredBy}
	}

	var createdRow bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO filings.taxonomy_libraries
			(library_id, taxonomy_name, taxonomy_version, taxonomy_namespace, source_url,
			 download_status, required_by_filings, current_url)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $5)
		ON CONFLICT (taxonomy_namespace) DO UPDATE
			SET required_by_filings = CASE
				WHEN $7::text <> '' AND NOT ($7 = ANY(filings.taxonomy_libraries.required_by_filings))
					THEN array_append(filings.taxonomy_libraries.required_by_filings, $7)
				ELSE filings.taxonomy_libraries.required_by_filings
			END
		RETURNING (xmax = 0)`,
		id, lib.TaxonomyName, lib.TaxonomyVersion, lib.TaxonomyNamespace, lib.SourceURL,
		requiredByArr, requiredBy,
	).Scan(&createdRow)
	if err != nil {
		return false, false, eris.Wrapf(err, "db: upsert taxonomy library %s", lib.TaxonomyNamespace)
	}
	return createdRow, false, nil
}

func (r *PostgresRepository) GetTaxonomyByNamespace(ctx context.Context, namespace string) (model.TaxonomyLibrary, bool, error) {
	return r.scanOneTaxonomy(ctx, `WHERE taxonomy_namespace = $1`, namespace)
}

func (r *PostgresRepository) GetTaxonomyByNameVersion(ctx context.Context, name, version string) (model.TaxonomyLibrary, bool, error) {
	return r.scanOneTaxonomy(ctx, `WHERE taxonomy_name = $1 AND taxonomy_version = $2`, name, version)
}

func (r *PostgresRepository) scanOneTaxonomy(ctx context.Context, where string, args ...any) (model.TaxonomyLibrary, bool, error) {
	row := r.pool.QueryRow(ctx, taxonomySelectSQL+where, args...)
	lib, err := scanTaxonomyRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TaxonomyLibrary{}, false, nil
		}
		return model.TaxonomyLibrary{}, false, eris.Wrap(err, "db: get taxonomy library")
	}
	return lib, true, nil
}

const taxonomySelectSQL = `
	SELECT library_id, taxonomy_name, taxonomy_version, taxonomy_namespace, source_url,
	       download_status, coalesce(library_directory, ''), coalesce(total_files, 0),
	       download_completed_at, last_verified_at, required_by_filings,
	       download_attempts, extraction_attempts, total_attempts,
	       coalesce(failure_reason, ''), coalesce(current_url, ''), alternative_urls, alternatives_tried
	FROM filings.taxonomy_libraries
`

func scanTaxonomyRow(row pgx.Row) (model.TaxonomyLibrary, error) {
	var l model.TaxonomyLibrary
	err := row.Scan(&l.LibraryID, &l.TaxonomyName, &l.TaxonomyVersion, &l.TaxonomyNamespace, &l.SourceURL,
		&l.DownloadStatus, &l.LibraryDirectory, &l.TotalFiles,
		&l.DownloadCompletedAt, &l.LastVerifiedAt, &l.RequiredByFilings,
		&l.DownloadAttempts, &l.ExtractionAttempts, &l.TotalAttempts,
		&l.FailureReason, &l.CurrentURL, &l.AlternativeURLs, &l.AlternativesTried)
	return l, err
}

func (r *PostgresRepository) GetPendingTaxonomies(ctx context.Context, limit int) ([]model.TaxonomyLibrary, error) {
	rows, err := r.pool.Query(ctx, taxonomySelectSQL+`
		WHERE download_status = 'pending'
		ORDER BY download_attempts ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "db: query pending taxonomies")
	}
	defer rows.Close()

	var out []model.TaxonomyLibrary
	for rows.Next() {
		l, err := scanTaxonomyRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "db: scan taxonomy library")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ClaimTaxonomyDownload(ctx context.Context, libraryID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE filings.taxonomy_libraries
		SET download_status = 'downloading'
		WHERE library_id = $1 AND download_status IN ('pending', 'failed')`, libraryID)
	if err != nil {
		return false, eris.Wrapf(err, "db: claim taxonomy download %s", libraryID)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) CompleteTaxonomyDownload(ctx context.Context, libraryID, directory string, totalFiles int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE filings.taxonomy_libraries
		SET download_status = 'completed', library_directory = $2, total_files = $3,
		    download_completed_at = now(), last_verified_at = now()
		WHERE library_id = $1`, libraryID, directory, totalFiles)
	if err != nil {
		return eris.Wrapf(err, "db: complete taxonomy download %s", libraryID)
	}
	return nil
}

func (r *PostgresRepository) FailTaxonomyDownload(ctx context.Context, libraryID string, reason, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE filings.taxonomy_libraries
		SET download_status = 'failed', failure_reason = $2,
		    download_attempts = download_attempts + 1, total_attempts = total_attempts + 1
		WHERE library_id = $1`, libraryID, reason)
	if err != nil {
		return eris.Wrapf(err, "db: fail taxonomy download %s: %s", libraryID, message)
	}
	return nil
}

func (r *PostgresRepository) MarkTaxonomyInactive(ctx context.Context, libraryID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE filings.taxonomy_libraries
		SET download_status = 'failed', failure_reason = 'disk_missing'
		WHERE library_id = $1`, libraryID)
	if err != nil {
		return eris.Wrapf(err, "db: mark taxonomy inactive %s", libraryID)
	}
	return nil
}

func (r *PostgresRepository) ListFailedTaxonomies(ctx context.Context, maxTotalAttempts int) ([]model.TaxonomyLibrary, error) {
	rows, err := r.pool.Query(ctx, taxonomySelectSQL+`
		WHERE download_status = 'failed' AND total_attempts < $1
		ORDER BY total_attempts ASC`, maxTotalAttempts)
	if err != nil {
		return nil, eris.Wrap(err, "db: list failed taxonomies")
	}
	defer rows.Close()

	var out []model.TaxonomyLibrary
	for rows.Next() {
		l, err := scanTaxonomyRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "db: scan failed taxonomy")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetTaxonomyRetryURL(ctx context.Context, libraryID, newURL, triedURL string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE filings.taxonomy_libraries
		SET current_url = $2,
		    alternatives_tried = array_append(alternatives_tried, $3)
		WHERE library_id = $1`, libraryID, newURL, triedURL)
	if err != nil {
		return eris.Wrapf(err, "db: set taxonomy retry url %s", libraryID)
	}
	return nil
}

func (r *PostgresRepository) ResetTaxonomyPending(ctx context.Context, libraryID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE filings.taxonomy_libraries SET download_status = 'pending' WHERE library_id = $1`, libraryID)
	if err != nil {
		return eris.Wrapf(err, "db: reset taxonomy pending %s", libraryID)
	}
	return nil
}

func (r *PostgresRepository) SeedMarkets(ctx context.Context, markets []model.Market) error {
	for _, m := range markets {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO filings.markets (market_id, name, country, api_base_url, rate_limit_per_minute, user_agent_required)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (market_id) DO UPDATE SET
				name = EXCLUDED.name, country = EXCLUDED.country, api_base_url = EXCLUDED.api_base_url,
				rate_limit_per_minute = EXCLUDED.rate_limit_per_minute, user_agent_required = EXCLUDED.user_agent_required`,
			m.MarketID, m.Name, m.Country, m.APIBaseURL, m.RateLimitPerMinute, m.UserAgentRequired,
		)
		if err != nil {
			return eris.Wrapf(err, "db: seed market %s", m.MarketID)
		}
	}
	return nil
}

func (r *PostgresRepository) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO filings.dead_letter_queue
			(id, library_id, taxonomy_name, taxonomy_version, failure_reason, error_type, total_attempts, urls_tried)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (library_id) DO UPDATE SET
			failure_reason = EXCLUDED.failure_reason, error_type = EXCLUDED.error_type,
			total_attempts = EXCLUDED.total_attempts, urls_tried = EXCLUDED.urls_tried`,
		id, entry.LibraryID, entry.TaxonomyName, entry.TaxonomyVersion, entry.FailureReason,
		entry.ErrorType, entry.TotalAttempts, entry.URLsTried)
	if err != nil {
		return eris.Wrapf(err, "db: enqueue dlq %s", entry.LibraryID)
	}
	return nil
}

func (r *PostgresRepository) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, library_id, taxonomy_name, taxonomy_version, failure_reason, error_type, total_attempts, urls_tried, created_at
		FROM filings.dead_letter_queue`
	var args []any
	argN := 1
	if filter.ErrorType != "" {
		query += fmt.Sprintf(" WHERE error_type = $%d", argN)
		args = append(args, filter.ErrorType)
		argN++
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "db: list dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.LibraryID, &e.TaxonomyName, &e.TaxonomyVersion, &e.FailureReason,
			&e.ErrorType, &e.TotalAttempts, &e.URLsTried, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "db: scan dlq entry")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
