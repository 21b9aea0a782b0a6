package decisions

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/metrics"
	"github.com/JaimeStill/steward/internal/packs"
	"github.com/JaimeStill/steward/internal/users"
	"github.com/JaimeStill/steward/pkg/canonical"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
	"github.com/JaimeStill/steward/pkg/storage"
)

type repo struct {
	db         *sql.DB
	exceptions ExceptionLedger
	users      users.Authorizer
	packs      *packs.Registry
	storage    storage.System
	audit      audit.Appender
	metrics    *metrics.Metrics
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a decision ledger implementing the System interface. store may
// be nil, in which case evidence is not archived and attachments are unavailable.
func New(
	db *sql.DB,
	ledger ExceptionLedger,
	authorizer users.Authorizer,
	registry *packs.Registry,
	store storage.System,
	auditor audit.Appender,
	m *metrics.Metrics,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		exceptions: ledger,
		users:      authorizer,
		packs:      registry,
		storage:    store,
		audit:      auditor,
		metrics:    m,
		logger:     logger.With("system", "decisions"),
		pagination: pagination,
	}
}

func (r *repo) Handler(maxUploadSize int64) *Handler {
	return NewHandler(r, r.logger, r.pagination, maxUploadSize)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Decision], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Rationale", "ChosenOptionID")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count decisions: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanDecision)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Decision, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	d, err := repository.QueryOne(ctx, r.db, q, args, scanDecision)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &d, nil
}

func (r *repo) EvidencePack(ctx context.Context, decisionID uuid.UUID) (*EvidencePack, error) {
	q, args := query.NewBuilder(packProjection).BuildSingle("DecisionID", decisionID)

	p, err := repository.QueryOne(ctx, r.db, q, args, scanPack)
	if err != nil {
		return nil, repository.MapError(err, ErrEvidenceNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *repo) Archive(ctx context.Context, decisionID uuid.UUID) (io.ReadCloser, error) {
	if r.storage == nil {
		return nil, ErrAttachmentsDisabled
	}

	p, err := r.EvidencePack(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if p.ArchiveKey == nil {
		return nil, fmt.Errorf("%w: decision %s was not archived", ErrEvidenceNotFound, decisionID)
	}

	rc, err := r.storage.Download(ctx, *p.ArchiveKey)
	if err != nil {
		return nil, fmt.Errorf("download evidence archive: %w", err)
	}
	return rc, nil
}

// Record commits a decision, its evidence pack and the resolution of its
// exception in one transaction. Every check runs before the first insert.
// When blob storage is configured the canonical evidence document is uploaded
// inside the transaction and deleted again if the transaction fails.
func (r *repo) Record(ctx context.Context, cmd RecordCommand) (*RecordResult, error) {
	if err := validate(&cmd); err != nil {
		return nil, err
	}

	items, err := canonical.Marshal(cmd.Evidence)
	if err != nil {
		return nil, fmt.Errorf("%w: evidence: %w", ErrInvalidDecision, err)
	}
	contentHash, err := canonical.Hash(cmd.Evidence)
	if err != nil {
		return nil, fmt.Errorf("%w: evidence: %w", ErrInvalidDecision, err)
	}
	assumptions, err := canonical.Marshal(cmd.Assumptions)
	if err != nil {
		return nil, fmt.Errorf("%w: assumptions: %w", ErrInvalidDecision, err)
	}

	id := uuid.New()
	var archiveKey *string

	result, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*RecordResult, error) {
		if err := r.check(ctx, tx, cmd); err != nil {
			return nil, err
		}

		if r.storage != nil {
			key, err := r.archive(ctx, id, cmd, contentHash)
			if err != nil {
				return nil, err
			}
			archiveKey = &key
		}

		insertDecision := `
			INSERT INTO decisions (
				id, exception_id, decision_type, is_hard_override, chosen_option_id, rationale,
				assumptions, decided_by, approved_by, approved_at, approval_notes
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING ` + returning

		d, err := repository.QueryOne(ctx, tx, insertDecision, []any{
			id,
			cmd.ExceptionID,
			string(cmd.DecisionType),
			cmd.DecisionType == TypeHardOverride,
			cmd.ChosenOptionID,
			cmd.Rationale,
			string(assumptions),
			cmd.DecidedBy,
			cmd.ApprovedBy,
			cmd.ApprovedAt,
			cmd.ApprovalNotes,
		}, scanDecision)
		if err != nil {
			return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
		}

		insertPack := `
			INSERT INTO evidence_packs (decision_id, items, content_hash, archive_key)
			VALUES ($1, $2, $3, $4)
			RETURNING ` + packReturning

		p, err := repository.QueryOne(ctx, tx, insertPack, []any{id, string(items), contentHash, archiveKey}, scanPack)
		if err != nil {
			return nil, repository.MapError(err, ErrEvidenceNotFound, ErrDuplicate)
		}

		notes := fmt.Sprintf("decision %s: %s", d.ID, d.ChosenOptionID)
		if _, err := r.exceptions.ResolveTx(ctx, tx, cmd.ExceptionID, cmd.DecidedBy, notes); err != nil {
			return nil, err
		}

		_, err = r.audit.Append(ctx, tx, audit.Entry{
			Type:      audit.DecisionRecorded,
			SubjectID: d.ID.String(),
			Actor:     d.DecidedBy,
			Payload: map[string]any{
				"exception_id":     d.ExceptionID,
				"decision_type":    d.DecisionType,
				"chosen_option_id": d.ChosenOptionID,
				"evidence_hash":    p.ContentHash,
			},
		})
		if err != nil {
			return nil, err
		}

		if d.IsHardOverride {
			_, err = r.audit.Append(ctx, tx, audit.Entry{
				Type:      audit.HardOverrideApproved,
				SubjectID: d.ID.String(),
				Actor:     *d.ApprovedBy,
				Payload: map[string]any{
					"exception_id": d.ExceptionID,
					"decided_by":   d.DecidedBy,
					"approved_at":  d.ApprovedAt,
				},
			})
			if err != nil {
				return nil, err
			}
		}

		return &RecordResult{Decision: &d, EvidencePack: &p}, nil
	})
	if err != nil {
		r.observe(err)
		if archiveKey != nil {
			if delErr := r.storage.Delete(ctx, *archiveKey); delErr != nil {
				r.logger.Warn("compensating evidence delete failed", "key", *archiveKey, "error", delErr)
			}
		}
		return nil, err
	}

	r.metrics.DecisionRecorded(string(result.Decision.DecisionType))
	r.logger.Info(
		"decision recorded",
		"id", result.Decision.ID,
		"exception_id", result.Decision.ExceptionID,
		"decision_type", result.Decision.DecisionType,
		"decided_by", result.Decision.DecidedBy,
	)

	return result, nil
}

// check runs the authorization and state checks that must pass before any insert.
func (r *repo) check(ctx context.Context, tx *sql.Tx, cmd RecordCommand) error {
	exc, err := r.exceptions.Lock(ctx, tx, cmd.ExceptionID)
	if err != nil {
		return err
	}
	if exc.Status != exceptions.StatusOpen {
		return fmt.Errorf("%w: status is %s", ErrExceptionNotDecidable, exc.Status)
	}

	if _, err := r.users.Authorize(ctx, tx, cmd.DecidedBy, users.DeciderRoles...); err != nil {
		return err
	}
	if cmd.ApprovedBy != nil {
		if _, err := r.users.Authorize(ctx, tx, *cmd.ApprovedBy, users.ReviewerRoles...); err != nil {
			return err
		}
	}

	if options := r.packs.Options(exc.SignalType); len(options) > 0 {
		offered := slices.ContainsFunc(options, func(o packs.Option) bool {
			return o.ID == cmd.ChosenOptionID
		})
		if !offered {
			return fmt.Errorf("%w: %s", ErrInvalidOption, cmd.ChosenOptionID)
		}
	}

	for _, item := range cmd.Evidence {
		if item.Attachment == nil {
			continue
		}
		if r.storage == nil {
			return ErrAttachmentsDisabled
		}
		ok, err := r.storage.Exists(ctx, item.Attachment.Key)
		if err != nil {
			return fmt.Errorf("check attachment %s: %w", item.Attachment.Key, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s not found", ErrInvalidAttachment, item.Attachment.Key)
		}
	}

	return nil
}

func (r *repo) archive(ctx context.Context, id uuid.UUID, cmd RecordCommand, contentHash string) (string, error) {
	doc, err := canonical.Marshal(map[string]any{
		"decision_id":      id,
		"exception_id":     cmd.ExceptionID,
		"decision_type":    cmd.DecisionType,
		"chosen_option_id": cmd.ChosenOptionID,
		"rationale":        cmd.Rationale,
		"assumptions":      cmd.Assumptions,
		"decided_by":       cmd.DecidedBy,
		"approved_by":      cmd.ApprovedBy,
		"approved_at":      cmd.ApprovedAt,
		"evidence":         cmd.Evidence,
		"evidence_hash":    contentHash,
	})
	if err != nil {
		return "", fmt.Errorf("encode evidence archive: %w", err)
	}

	key := archiveKey(id)
	if err := r.storage.Upload(ctx, key, bytes.NewReader(doc), "application/json"); err != nil {
		return "", fmt.Errorf("upload evidence archive: %w", err)
	}
	return key, nil
}

// observe records integrity events raised by the append-only triggers.
func (r *repo) observe(err error) {
	var immutable *repository.ImmutableError
	if errors.As(err, &immutable) {
		r.metrics.ImmutabilityViolation(immutable.Table)
		r.logger.Error("append-only violation", "table", immutable.Table, "operation", immutable.Operation)
	}
}

func (r *repo) UploadAttachment(ctx context.Context, cmd UploadCommand) (*Attachment, error) {
	if r.storage == nil {
		return nil, ErrAttachmentsDisabled
	}
	if len(cmd.Data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidAttachment)
	}

	sum := sha256.Sum256(cmd.Data)
	filename := sanitizeFilename(cmd.Filename)
	key := fmt.Sprintf("attachments/%s/%s", uuid.New(), filename)

	if err := r.storage.Upload(ctx, key, bytes.NewReader(cmd.Data), cmd.ContentType); err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}

	a := &Attachment{
		Key:         key,
		Filename:    cmd.Filename,
		ContentType: cmd.ContentType,
		SizeBytes:   int64(len(cmd.Data)),
		SHA256:      hex.EncodeToString(sum[:]),
		PageCount:   cmd.PageCount,
	}

	r.logger.Info("attachment uploaded", "key", key, "size_bytes", a.SizeBytes)
	return a, nil
}

// approvalClockSkew tolerates approver clocks slightly ahead of the server.
const approvalClockSkew = time.Minute

func validate(cmd *RecordCommand) error {
	cmd.ChosenOptionID = strings.TrimSpace(cmd.ChosenOptionID)
	cmd.Rationale = strings.TrimSpace(cmd.Rationale)

	if !cmd.DecisionType.Valid() {
		return fmt.Errorf("%w: unknown decision_type %q", ErrInvalidDecision, cmd.DecisionType)
	}
	if cmd.ChosenOptionID == "" {
		return fmt.Errorf("%w: chosen_option_id required", ErrInvalidDecision)
	}
	if cmd.Rationale == "" {
		return fmt.Errorf("%w: rationale required", ErrInvalidDecision)
	}
	if cmd.DecidedBy == "" {
		return fmt.Errorf("%w: decided_by required", ErrInvalidDecision)
	}
	if cmd.DecisionType == TypeHardOverride && (cmd.ApprovedBy == nil || *cmd.ApprovedBy == "" || cmd.ApprovedAt == nil) {
		return ErrApprovalRequired
	}
	if cmd.ApprovedBy != nil && *cmd.ApprovedBy == "" {
		cmd.ApprovedBy = nil
	}
	if cmd.ApprovedBy != nil && *cmd.ApprovedBy == cmd.DecidedBy {
		return fmt.Errorf("%w: approver must differ from decider", ErrInvalidApproval)
	}
	if cmd.ApprovedAt != nil && cmd.ApprovedAt.After(time.Now().Add(approvalClockSkew)) {
		return fmt.Errorf("%w: approved_at is in the future", ErrInvalidApproval)
	}

	if cmd.Assumptions == nil {
		cmd.Assumptions = []string{}
	}
	if cmd.Evidence == nil {
		cmd.Evidence = []EvidenceItem{}
	}
	for i, item := range cmd.Evidence {
		if item.Kind == "" {
			return fmt.Errorf("%w: evidence item %d has no kind", ErrInvalidDecision, i)
		}
	}
	return nil
}

func archiveKey(id uuid.UUID) string {
	return fmt.Sprintf("evidence/%s.json", id)
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		name = "attachment"
	}
	return url.PathEscape(name)
}
