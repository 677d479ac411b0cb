package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"filippo.io/age"
	"filippo.io/age/armor"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/clock"
	"github.com/orrn/printrelease/internal/core"
	"github.com/orrn/printrelease/internal/db"
)

var (
	ErrNoPassphrase    = errors.New("archive passphrase not set")
	ErrArchiveNotFound = errors.New("archive not found")
)

const archiveSuffix = ".db.age"

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	JobCount  int       `json:"jobCount"`
	Month     string    `json:"month"`
}

type ArchiveConfig struct {
	ArchivePath string
	ArchiveDays int
	Passphrase  string
	Interval    time.Duration
	BatchSize   int
	// WorkFactor is the scrypt log2 cost for new archives; zero keeps the
	// age default.
	WorkFactor int
}

// Archiver moves terminal jobs older than the retention window into
// monthly encrypted SQLite files and removes them from the live store.
type Archiver struct {
	store       *db.Store
	clock       clock.Clock
	logger      *zap.Logger
	archivePath string
	archiveDays int
	passphrase  string
	interval    time.Duration
	batchSize   int
	workFactor  int

	mu      sync.Mutex
	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewArchiver(store *db.Store, config ArchiveConfig, clk clock.Clock, logger *zap.Logger) (*Archiver, error) {
	if config.ArchivePath == "" {
		config.ArchivePath = "./data/archives"
	}
	if config.ArchiveDays <= 0 {
		config.ArchiveDays = 30
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(config.ArchivePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		store:       store,
		clock:       clk,
		logger:      logger.Named("archive"),
		archivePath: config.ArchivePath,
		archiveDays: config.ArchiveDays,
		passphrase:  config.Passphrase,
		interval:    config.Interval,
		batchSize:   config.BatchSize,
		workFactor:  config.WorkFactor,
	}, nil
}

func (a *Archiver) Start() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.stopCh = make(chan struct{})

	a.wg.Add(1)
	go a.runPeriodic()
}

func (a *Archiver) Stop() {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	a.runMu.Unlock()

	a.wg.Wait()
}

func (a *Archiver) runPeriodic() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			n, err := a.RunArchive(context.Background())
			switch {
			case errors.Is(err, ErrNoPassphrase):
				a.logger.Debug("archiving skipped, no passphrase configured")
			case err != nil:
				a.logger.Error("archive run failed", zap.Error(err))
			case n > 0:
				a.logger.Info("archived jobs", zap.Int("count", n))
			}
		}
	}
}

// RunArchive archives every terminal job whose terminal timestamp is older
// than the retention window. It returns the number of jobs moved.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.passphrase == "" {
		return 0, ErrNoPassphrase
	}

	now := a.clock.Now()
	cutoff := now.AddDate(0, 0, -a.archiveDays)
	filename := monthlyName(now)

	total := 0
	for {
		jobs, err := a.store.Archive.ListArchivable(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to get jobs for archival: %w", err)
		}
		if len(jobs) == 0 {
			return total, nil
		}

		if err := a.appendToArchive(ctx, filename, jobs, now); err != nil {
			return total, err
		}

		ids := make([]string, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		if err := a.store.Archive.RemoveArchived(ctx, ids, filename, now); err != nil {
			return total, fmt.Errorf("failed to remove archived jobs: %w", err)
		}
		total += len(jobs)

		if len(jobs) < a.batchSize {
			return total, nil
		}
	}
}

func monthlyName(t time.Time) string {
	return fmt.Sprintf("archive_%s%s", t.UTC().Format("2006_01"), archiveSuffix)
}

// appendToArchive decrypts the month's archive if it already exists, adds
// jobs to it and re-encrypts it in place.
func (a *Archiver) appendToArchive(ctx context.Context, filename string, jobs []*core.Job, now time.Time) error {
	workDir, err := os.MkdirTemp(a.archivePath, ".work-")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	plainPath := filepath.Join(workDir, "archive.db")
	encryptedPath := filepath.Join(a.archivePath, filename)

	if _, err := os.Stat(encryptedPath); err == nil {
		if err := a.decryptFile(encryptedPath, plainPath); err != nil {
			return fmt.Errorf("failed to open existing archive: %w", err)
		}
	}

	archiveDB, err := openArchiveDB(plainPath)
	if err != nil {
		return fmt.Errorf("failed to create archive database: %w", err)
	}

	if err := a.copyJobs(ctx, archiveDB, jobs, now); err != nil {
		archiveDB.Close()
		return err
	}
	if err := archiveDB.Close(); err != nil {
		return fmt.Errorf("failed to close archive database: %w", err)
	}

	tmpPath := filepath.Join(workDir, filename)
	if err := a.encryptFile(plainPath, tmpPath); err != nil {
		return fmt.Errorf("failed to encrypt archive: %w", err)
	}
	if err := os.Rename(tmpPath, encryptedPath); err != nil {
		return fmt.Errorf("failed to install archive: %w", err)
	}
	return nil
}

func (a *Archiver) copyJobs(ctx context.Context, archiveDB *sql.DB, jobs []*core.Job, now time.Time) error {
	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	for _, job := range jobs {
		if _, err := tx.ExecContext(ctx, insertArchivedJob,
			job.ID, job.UserID, job.DocumentName, job.Pages, job.Copies, job.Color, job.Duplex,
			job.Stapling, job.Priority, job.Notes, string(job.Status), job.Cost,
			job.SubmittedAt, job.ReleasedAt, job.CompletedAt, job.CancelledAt, job.DeletedAt,
			job.PrinterID, job.ReleasedBy, job.ExpiresAt, job.ViewCount,
			job.FirstViewedAt, job.LastViewedAt); err != nil {
			return fmt.Errorf("failed to insert job %s to archive: %w", job.ID, err)
		}

		doc, err := a.store.Jobs.GetDocument(ctx, job.ID)
		switch {
		case errors.Is(err, core.ErrNotFound):
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx, insertArchivedDocument,
				doc.ID, doc.JobID, doc.Content, doc.MimeType, doc.Filename, doc.Size, doc.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert document for %s to archive: %w", job.ID, err)
			}
		}

		views, err := a.store.Jobs.ListViews(ctx, job.ID)
		if err != nil {
			return err
		}
		for _, v := range views {
			if _, err := tx.ExecContext(ctx, insertArchivedView,
				v.ID, v.JobID, v.UserID, v.ViewedAt, v.UserAgent, v.IPAddress, string(v.Outcome)); err != nil {
				return fmt.Errorf("failed to insert view for %s to archive: %w", job.ID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, upsertArchiveMetadata, now); err != nil {
		return fmt.Errorf("failed to update archive metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

func (a *Archiver) encryptFile(inputPath, outputPath string) error {
	recipient, err := age.NewScryptRecipient(a.passphrase)
	if err != nil {
		return err
	}
	if a.workFactor > 0 {
		recipient.SetWorkFactor(a.workFactor)
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	armored := armor.NewWriter(out)
	w, err := age.Encrypt(armored, recipient)
	if err != nil {
		return fmt.Errorf("age encryption failed: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("age encryption failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("age encryption failed: %w", err)
	}
	if err := armored.Close(); err != nil {
		return fmt.Errorf("age armor failed: %w", err)
	}
	return out.Close()
}

func (a *Archiver) decryptFile(inputPath, outputPath string) error {
	identity, err := age.NewScryptIdentity(a.passphrase)
	if err != nil {
		return err
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	r, err := age.Decrypt(armor.NewReader(in), identity)
	if err != nil {
		return fmt.Errorf("age decryption failed: %w", err)
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("age decryption failed: %w", err)
	}
	return out.Close()
}

func (a *Archiver) ListArchives(ctx context.Context) ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	archives := []*ArchiveFile{}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), archiveSuffix) {
			continue
		}
		info, err := a.GetArchiveInfo(ctx, file.Name())
		if err != nil {
			continue
		}
		archives = append(archives, info)
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Filename < archives[j].Filename
	})
	return archives, nil
}

func (a *Archiver) GetArchiveInfo(ctx context.Context, filename string) (*ArchiveFile, error) {
	filePath, err := a.resolve(filename)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	archiveFile := &ArchiveFile{
		Filename:  filename,
		Size:      info.Size(),
		CreatedAt: info.ModTime().UTC(),
	}
	if strings.HasPrefix(filename, "archive_") {
		archiveFile.Month = strings.TrimSuffix(strings.TrimPrefix(filename, "archive_"), archiveSuffix)
	}

	if count, err := a.store.Archive.CountByFile(ctx, filename); err == nil {
		archiveFile.JobCount = count
	}
	return archiveFile, nil
}

// DecryptArchive writes the plaintext SQLite archive to outputPath.
func (a *Archiver) DecryptArchive(filename string, outputPath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.passphrase == "" {
		return ErrNoPassphrase
	}

	filePath, err := a.resolve(filename)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return ErrArchiveNotFound
	}

	if err := a.decryptFile(filePath, outputPath); err != nil {
		return fmt.Errorf("failed to decrypt archive: %w", err)
	}
	return nil
}

// LookupJob returns an archived job by id, decrypting its archive.
func (a *Archiver) LookupJob(ctx context.Context, jobID string) (*core.Job, string, error) {
	rec, err := a.store.Archive.GetRecordByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", core.ErrNotFound
		}
		return nil, "", err
	}

	tmp, err := os.CreateTemp("", "archive-lookup-*.db")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := a.DecryptArchive(rec.ArchiveFile, tmpPath); err != nil {
		return nil, "", err
	}

	archiveDB, err := sql.Open("sqlite3", tmpPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open archive database: %w", err)
	}
	defer archiveDB.Close()

	job, err := scanArchivedJob(archiveDB.QueryRowContext(ctx, selectArchivedJob, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", core.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to query archived job: %w", err)
	}
	return job, rec.ArchiveFile, nil
}

func (a *Archiver) DeleteArchive(ctx context.Context, filename string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	filePath, err := a.resolve(filename)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return ErrArchiveNotFound
	}

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	if err := a.store.Archive.DeleteRecordsByFile(ctx, filename); err != nil {
		return err
	}
	a.logger.Info("archive deleted", zap.String("file", filename))
	return nil
}

// resolve maps an archive name to its path, refusing anything that is not a
// plain file name inside the archive directory.
func (a *Archiver) resolve(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || !strings.HasSuffix(filename, archiveSuffix) {
		return "", ErrArchiveNotFound
	}
	return filepath.Join(a.archivePath, filename), nil
}

// Path returns the on-disk location of an existing archive.
func (a *Archiver) Path(filename string) (string, error) {
	filePath, err := a.resolve(filename)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return "", ErrArchiveNotFound
		}
		return "", err
	}
	return filePath, nil
}

func (a *Archiver) SetPassphrase(passphrase string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.passphrase = passphrase
}

func (a *Archiver) HasPassphrase() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.passphrase != ""
}

func (a *Archiver) SetArchiveDays(days int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if days > 0 {
		a.archiveDays = days
	}
}

func (a *Archiver) GetArchiveDays() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.archiveDays
}

func (a *Archiver) GetArchivePath() string {
	return a.archivePath
}
