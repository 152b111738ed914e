// SQLite backend for the Repository, used by tests and single-operator
// deployments that don't want to stand up Postgres (StoreConfig.Driver =
// "sqlite"). Mirrors internal/store's postgres/sqlite dual-backend pattern
// from the teacher repo, generalized to this module's schema.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/filing-acquirer/internal/model"
	"github.com/sells-group/filing-acquirer/internal/resilience"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteRepository is a Repository backend for tests and embeddable use.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a sqlite database at path and
// applies the schema. Use ":memory:" for ephemeral test databases.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "db: open sqlite")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, eris.Wrap(err, "db: apply sqlite schema")
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error { return r.db.Close() }

var _ Repository = (*SQLiteRepository)(nil)

func (r *SQLiteRepository) UpsertEntity(ctx context.Context, marketType model.MarketType, marketEntityID, companyName string) (model.Entity, error) {
	id := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entities (entity_id, market_type, market_entity_id, company_name, status, created_at)
		VALUES (?, ?, ?, ?, 'active', ?)
		ON CONFLICT (market_type, market_entity_id) DO UPDATE SET company_name = excluded.company_name`,
		id, string(marketType), marketEntityID, companyName, now)
	if err != nil {
		return model.Entity{}, eris.Wrapf(err, "db: upsert entity %s/%s", marketType, marketEntityID)
	}

	var e model.Entity
	var mt string
	err = r.db.QueryRowContext(ctx, `
		SELECT entity_id, market_type, market_entity_id, company_name, status, created_at
		FROM entities WHERE market_type = ? AND market_entity_id = ?`, string(marketType), marketEntityID,
	).Scan(&e.EntityID, &mt, &e.MarketEntityID, &e.CompanyName, &e.Status, &e.CreatedAt)
	e.MarketType = model.MarketType(mt)
	if err != nil {
		return model.Entity{}, eris.Wrap(err, "db: read back upserted entity")
	}
	return e, nil
}

func (r *SQLiteRepository) GetEntity(ctx context.Context, entityID string) (model.Entity, error) {
	var e model.Entity
	var mt string
	err := r.db.QueryRowContext(ctx, `
		SELECT entity_id, market_type, market_entity_id, company_name, status, created_at
		FROM entities WHERE entity_id = ?`, entityID,
	).Scan(&e.EntityID, &mt, &e.MarketEntityID, &e.CompanyName, &e.Status, &e.CreatedAt)
	e.MarketType = model.MarketType(mt)
	if err != nil {
		return model.Entity{}, eris.Wrapf(err, "db: get entity %s", entityID)
	}
	return e, nil
}

func (r *SQLiteRepository) CreateFilingSearch(ctx context.Context, f model.FilingSearch) (bool, error) {
	if f.SearchID == "" {
		f.SearchID = uuid.New().String()
	}
	meta, err := json.Marshal(f.SearchMetadata)
	if err != nil {
		return false, eris.Wrap(err, "db: marshal search metadata")
	}
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO filing_searches
			(search_id, entity_id, market_type, form_type, filing_date, filing_url,
			 accession_number, search_metadata, download_status, extraction_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 'pending', ?, ?)`,
		f.SearchID, f.EntityID, string(f.MarketType), f.FormType, f.FilingDate, f.FilingURL,
		f.AccessionNumber, string(meta), now, now)
	if err != nil {
		return false, eris.Wrapf(err, "db: create filing search %s", f.AccessionNumber)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *SQLiteRepository) GetPendingDownloads(ctx context.Context, limit int) ([]model.FilingSearch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT search_id, entity_id, market_type, form_type, filing_date, filing_url,
		       accession_number, search_metadata, download_status, extraction_status,
		       coalesce(error_stage, ''), coalesce(error_message, ''), attempt_count, created_at, updated_at
		FROM filing_searches
		WHERE download_status IN ('pending', 'failed')
		ORDER BY (download_status = 'failed') DESC, created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "db: query pending filing downloads")
	}
	defer rows.Close()

	var out []model.FilingSearch
	for rows.Next() {
		f, err := scanSQLiteFilingSearch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetFilingSearch(ctx context.Context, searchID string) (model.FilingSearch, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT search_id, entity_id, market_type, form_type, filing_date, filing_url,
		       accession_number, search_metadata, download_status, extraction_status,
		       coalesce(error_stage, ''), coalesce(error_message, ''), attempt_count, created_at, updated_at
		FROM filing_searches WHERE search_id = ?`, searchID)
	return scanSQLiteFilingSearch(row)
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFilingSearch(row sqliteScanner) (model.FilingSearch, error) {
	var f model.FilingSearch
	var meta string
	var mt, createdAt, updatedAt string
	err := row.Scan(&f.SearchID, &f.EntityID, &mt, &f.FormType, &f.FilingDate,
		&f.FilingURL, &f.AccessionNumber, &meta, &f.DownloadStatus, &f.ExtractionStatus,
		&f.ErrorStage, &f.ErrorMessage, &f.AttemptCount, &createdAt, &updatedAt)
	if err != nil {
		return model.FilingSearch{}, eris.Wrap(err, "db: scan filing search")
	}
	f.MarketType = model.MarketType(mt)
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	_ = json.Unmarshal([]byte(meta), &f.SearchMetadata)
	return f, nil
}

func (r *SQLiteRepository) ClaimDownload(ctx context.Context, searchID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE filing_searches SET download_status = 'downloading', updated_at = ?
		WHERE search_id = ? AND download_status IN ('pending', 'failed')`,
		time.Now().UTC().Format(time.RFC3339), searchID)
	if err != nil {
		return false, eris.Wrapf(err, "db: claim download %s", searchID)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *SQLiteRepository) CompleteFilingDownload(ctx context.Context, searchID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE filing_searches SET download_status = 'completed', extraction_status = 'completed', updated_at = ?
		WHERE search_id = ?`, time.Now().UTC().Format(time.RFC3339), searchID)
	if err != nil {
		return eris.Wrapf(err, "db: complete filing download %s", searchID)
	}
	return nil
}

func (r *SQLiteRepository) FailFilingDownload(ctx context.Context, searchID string, stage model.ErrorStage, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE filing_searches
		SET download_status = 'failed', error_stage = ?, error_message = ?,
		    attempt_count = attempt_count + 1, updated_at = ?
		WHERE search_id = ?`, string(stage), message, time.Now().UTC().Format(time.RFC3339), searchID)
	if err != nil {
		return eris.Wrapf(err, "db: fail filing download %s", searchID)
	}
	return nil
}

func (r *SQLiteRepository) CreateDownloadedFiling(ctx context.Context, d model.DownloadedFiling) error {
	if d.FilingID == "" {
		d.FilingID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloaded_filings
			(filing_id, search_id, entity_id, download_directory, instance_file_path, download_completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.FilingID, d.SearchID, d.EntityID, d.DownloadDirectory, d.InstanceFilePath,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return eris.Wrapf(err, "db: create downloaded filing for search %s", d.SearchID)
	}
	return nil
}

func (r *SQLiteRepository) UpsertTaxonomyLibrary(ctx context.Context, lib model.TaxonomyLibrary, requiredBy string) (bool, bool, error) {
	if lib.IsUnknown() {
		return false, true, nil
	}

	existing, found, err := r.GetTaxonomyByNamespace(ctx, lib.TaxonomyNamespace)
	if err != nil {
		return false, false, err
	}
	if found {
		if requiredBy != "" && !contains(existing.RequiredByFilings, requiredBy) {
			existing.RequiredByFilings = append(existing.RequiredByFilings, requiredBy)
			buf, _ := json.Marshal(existing.RequiredByFilings)
			if _, err := r.db.ExecContext(ctx,
				`UPDATE taxonomy_libraries SET required_by_filings = ? WHERE library_id = ?`,
				string(buf), existing.LibraryID); err != nil {
				return false, false, eris.Wrap(err, "db: append required_by_filings")
			}
		}
		return false, false, nil
	}

	id := lib.LibraryID
	if id == "" {
		id = uuid.New().String()
	}
	var requiredByArr []string
	if requiredBy != "" {
		requiredByArr = []string{requiredBy}
	}
	buf, _ := json.Marshal(requiredByArr)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO taxonomy_libraries
			(library_id, taxonomy_name, taxonomy_version, taxonomy_namespace, source_url,
			 download_status, required_by_filings, current_url)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)`,
		id, lib.TaxonomyName, lib.TaxonomyVersion, lib.TaxonomyNamespace, lib.SourceURL,
		string(buf), lib.SourceURL)
	if err != nil {
		return false, false, eris.Wrapf(err, "db: insert taxonomy library %s", lib.TaxonomyNamespace)
	}
	return true, false, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func (r *SQLiteRepository) GetTaxonomyByNamespace(ctx context.Context, namespace string) (model.TaxonomyLibrary, bool, error) {
	row := r.db.QueryRowContext(ctx, sqliteTaxonomySelectSQL+`WHERE taxonomy_namespace = ?`, namespace)
	return scanSQLiteOneTaxonomy(row)
}

func (r *SQLiteRepository) GetTaxonomyByNameVersion(ctx context.Context, name, version string) (model.TaxonomyLibrary, bool, error) {
	row := r.db.QueryRowContext(ctx, sqliteTaxonomySelectSQL+`WHERE taxonomy_name = ? AND taxonomy_version = ?`, name, version)
	return scanSQLiteOneTaxonomy(row)
}

const sqliteTaxonomySelectSQL = `
	SELECT library_id, taxonomy_name, taxonomy_version, taxonomy_namespace, source_url,
	       download_status, coalesce(library_directory, ''), coalesce(total_files, 0),
	       coalesce(download_completed_at, ''), coalesce(last_verified_at, ''), required_by_filings,
	       download_attempts, extraction_attempts, total_attempts,
	       coalesce(failure_reason, ''), coalesce(current_url, ''), alternative_urls, alternatives_tried
	FROM taxonomy_libraries
`

func scanSQLiteOneTaxonomy(row sqliteScanner) (model.TaxonomyLibrary, bool, error) {
	l, err := scanSQLiteTaxonomyRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.TaxonomyLibrary{}, false, nil
		}
		return model.TaxonomyLibrary{}, false, err
	}
	return l, true, nil
}

func scanSQLiteTaxonomyRow(row sqliteScanner) (model.TaxonomyLibrary, error) {
	var l model.TaxonomyLibrary
	var completedAt, verifiedAt, requiredBy, altURLs, altTried string
	err := row.Scan(&l.LibraryID, &l.TaxonomyName, &l.TaxonomyVersion, &l.TaxonomyNamespace, &l.SourceURL,
		&l.DownloadStatus, &l.LibraryDirectory, &l.TotalFiles,
		&completedAt, &verifiedAt, &requiredBy,
		&l.DownloadAttempts, &l.ExtractionAttempts, &l.TotalAttempts,
		&l.FailureReason, &l.CurrentURL, &altURLs, &altTried)
	if err != nil {
		return model.TaxonomyLibrary{}, err
	}
	if t, perr := time.Parse(time.RFC3339, completedAt); perr == nil {
		l.DownloadCompletedAt = &t
	}
	if t, perr := time.Parse(time.RFC3339, verifiedAt); perr == nil {
		l.LastVerifiedAt = &t
	}
	_ = json.Unmarshal([]byte(requiredBy), &l.RequiredByFilings)
	_ = json.Unmarshal([]byte(altURLs), &l.AlternativeURLs)
	_ = json.Unmarshal([]byte(altTried), &l.AlternativesTried)
	return l, nil
}

func (r *SQLiteRepository) GetPendingTaxonomies(ctx context.Context, limit int) ([]model.TaxonomyLibrary, error) {
	rows, err := r.db.QueryContext(ctx, sqliteTaxonomySelectSQL+`
		WHERE download_status = 'pending' ORDER BY download_attempts ASC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "db: query pending taxonomies")
	}
	defer rows.Close()

	var out []model.TaxonomyLibrary
	for rows.Next() {
		l, err := scanSQLiteTaxonomyRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "db: scan taxonomy library")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ClaimTaxonomyDownload(ctx context.Context, libraryID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE taxonomy_libraries SET download_status = 'downloading'
		WHERE library_id = ? AND download_status IN ('pending', 'failed')`, libraryID)
	if err != nil {
		return false, eris.Wrapf(err, "db: claim taxonomy download %s", libraryID)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *SQLiteRepository) CompleteTaxonomyDownload(ctx context.Context, libraryID, directory string, totalFiles int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE taxonomy_libraries
		SET download_status = 'completed', library_directory = ?, total_files = ?,
		    download_completed_at = ?, last_verified_at = ?
		WHERE library_id = ?`, directory, totalFiles, now, now, libraryID)
	if err != nil {
		return eris.Wrapf(err, "db: complete taxonomy download %s", libraryID)
	}
	return nil
}

func (r *SQLiteRepository) FailTaxonomyDownload(ctx context.Context, libraryID string, reason, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE taxonomy_libraries
		SET download_status = 'failed', failure_reason = ?,
		    download_attempts = download_attempts + 1, total_attempts = total_attempts + 1
		WHERE library_id = ?`, reason, libraryID)
	if err != nil {
		return eris.Wrapf(err, "db: fail taxonomy download %s: %s", libraryID, message)
	}
	return nil
}

func (r *SQLiteRepository) MarkTaxonomyInactive(ctx context.Context, libraryID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE taxonomy_libraries SET download_status = 'failed', failure_reason = 'disk_missing'
		WHERE library_id = ?`, libraryID)
	if err != nil {
		return eris.Wrapf(err, "db: mark taxonomy inactive %s", libraryID)
	}
	return nil
}

func (r *SQLiteRepository) ListFailedTaxonomies(ctx context.Context, maxTotalAttempts int) ([]model.TaxonomyLibrary, error) {
	rows, err := r.db.QueryContext(ctx, sqliteTaxonomySelectSQL+`
		WHERE download_status = 'failed' AND total_attempts < ? ORDER BY total_attempts ASC`, maxTotalAttempts)
	if err != nil {
		return nil, eris.Wrap(err, "db: list failed taxonomies")
	}
	defer rows.Close()

	var out []model.TaxonomyLibrary
	for rows.Next() {
		l, err := scanSQLiteTaxonomyRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "db: scan failed taxonomy")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SetTaxonomyRetryURL(ctx context.Context, libraryID, newURL, triedURL string) error {
	existing, found, err := r.scanOneByID(ctx, libraryID)
	if err != nil {
		return err
	}
	if !found {
		return eris.Errorf("db: taxonomy library %s not found", libraryID)
	}
	existing.AlternativesTried = append(existing.AlternativesTried, triedURL)
	buf, _ := json.Marshal(existing.AlternativesTried)
	_, err = r.db.ExecContext(ctx, `
		UPDATE taxonomy_libraries SET current_url = ?, alternatives_tried = ? WHERE library_id = ?`,
		newURL, string(buf), libraryID)
	if err != nil {
		return eris.Wrapf(err, "db: set taxonomy retry url %s", libraryID)
	}
	return nil
}

func (r *SQLiteRepository) scanOneByID(ctx context.Context, libraryID string) (model.TaxonomyLibrary, bool, error) {
	row := r.db.QueryRowContext(ctx, sqliteTaxonomySelectSQL+`WHERE library_id = ?`, libraryID)
	return scanSQLiteOneTaxonomy(row)
}

func (r *SQLiteRepository) ResetTaxonomyPending(ctx context.Context, libraryID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE taxonomy_libraries SET download_status = 'pending' WHERE library_id = ?`, libraryID)
	if err != nil {
		return eris.Wrapf(err, "db: reset taxonomy pending %s", libraryID)
	}
	return nil
}

func (r *SQLiteRepository) SeedMarkets(ctx context.Context, markets []model.Market) error {
	for _, m := range markets {
		uaReq := 0
		if m.UserAgentRequired {
			uaReq = 1
		}
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO markets (market_id, name, country, api_base_url, rate_limit_per_minute, user_agent_required)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (market_id) DO UPDATE SET
				name = excluded.name, country = excluded.country, api_base_url = excluded.api_base_url,
				rate_limit_per_minute = excluded.rate_limit_per_minute, user_agent_required = excluded.user_agent_required`,
			string(m.MarketID), m.Name, m.Country, m.APIBaseURL, m.RateLimitPerMinute, uaReq)
		if err != nil {
			return eris.Wrapf(err, "db: seed market %s", m.MarketID)
		}
	}
	return nil
}

func (r *SQLiteRepository) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	urlsTried, _ := json.Marshal(entry.URLsTried)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dead_letter_queue
			(id, library_id, taxonomy_name, taxonomy_version, failure_reason, error_type, total_attempts, urls_tried, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (library_id) DO UPDATE SET
			failure_reason = excluded.failure_reason, error_type = excluded.error_type,
			total_attempts = excluded.total_attempts, urls_tried = excluded.urls_tried`,
		entry.ID, entry.LibraryID, entry.TaxonomyName, entry.TaxonomyVersion, entry.FailureReason,
		entry.ErrorType, entry.TotalAttempts, string(urlsTried), time.Now().UTC())
	if err != nil {
		return eris.Wrapf(err, "db: enqueue dlq %s", entry.LibraryID)
	}
	return nil
}

func (r *SQLiteRepository) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, library_id, taxonomy_name, taxonomy_version, failure_reason, error_type, total_attempts, urls_tried, created_at
		FROM dead_letter_queue`
	var args []any
	if filter.ErrorType != "" {
		query += ` WHERE error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "db: list dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var urlsTried string
		if err := rows.Scan(&e.ID, &e.LibraryID, &e.TaxonomyName, &e.TaxonomyVersion, &e.FailureReason,
			&e.ErrorType, &e.TotalAttempts, &urlsTried, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "db: scan dlq entry")
		}
		if urlsTried != "" {
			_ = json.Unmarshal([]byte(urlsTried), &e.URLsTried)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
