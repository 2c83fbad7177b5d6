package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
)

// DefaultAddBatchSize is the number of member IDs sent per add call.
const DefaultAddBatchSize = 50

// MemberService adds resolved candidates to a folder.
type MemberService struct {
	dir       driven.UserDirectory
	resolver  *BulkResolver
	batchSize int
	renew     func(ctx context.Context) error
	logger    *slog.Logger
}

// NewMemberService creates a MemberService. A non-positive batchSize uses
// DefaultAddBatchSize.
func NewMemberService(dir driven.UserDirectory, resolver *BulkResolver, batchSize int, logger *slog.Logger) *MemberService {
	if batchSize <= 0 {
		batchSize = DefaultAddBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemberService{dir: dir, resolver: resolver, batchSize: batchSize, logger: logger}
}

// SetRenewer installs renew, which is called at most once per AddUsers run
// when the credential expires. After it succeeds, the candidates and batch
// that failed are retried.
func (s *MemberService) SetRenewer(renew func(ctx context.Context) error) {
	s.renew = renew
}

// AddUsers resolves candidates against the folder's current members and adds
// the new ones in batches. A failed batch is counted and the rest proceed.
// A fatal resolution or add error stops the run and is returned with the
// partial report.
func (s *MemberService) AddUsers(ctx context.Context, folderID string, candidates []string) (model.AddMembersReport, error) {
	report := model.AddMembersReport{FolderID: folderID}

	folder, err := s.dir.GetFolder(ctx, folderID)
	if err != nil {
		return report, fmt.Errorf("get folder %s: %w", folderID, err)
	}
	s.logger.Info("folder loaded", "folder", folder.ID, "title", folder.Title, "members", len(folder.MemberIDs))

	renewed := false
	renewOnce := func(cause error) error {
		if s.renew == nil || renewed || model.KindOf(cause) != model.KindExpired {
			return cause
		}
		renewed = true
		if err := s.renew(ctx); err != nil {
			return errors.Join(cause, err)
		}
		return nil
	}

	resolution, err := s.resolver.Resolve(ctx, candidates, folder.MemberIDs)
	if err != nil {
		if rerr := renewOnce(err); rerr != nil {
			report.Resolution = resolution
			return report, rerr
		}
		err = s.resolveFailed(ctx, &resolution, folder.MemberIDs)
	}
	report.Resolution = resolution
	if err != nil {
		return report, err
	}

	ids := resolution.NewMemberIDs()
	for start := 0; start < len(ids); start += s.batchSize {
		batch := ids[start:min(start+s.batchSize, len(ids))]

		err := s.dir.AddFolderMembers(ctx, folder.ID, batch)
		if err != nil && isFatal(err) && renewOnce(err) == nil {
			err = s.dir.AddFolderMembers(ctx, folder.ID, batch)
		}
		switch {
		case err == nil:
			report.Added += len(batch)
		case isFatal(err):
			return report, fmt.Errorf("add members: %w", err)
		default:
			s.logger.Warn("add members batch failed",
				"folder", folder.ID,
				"batch_start", start,
				"batch_size", len(batch),
				"error", err,
			)
			report.FailedBatches++
			report.BatchErrors = append(report.BatchErrors, err)
		}
	}

	s.logger.Info("members added",
		"folder", folder.ID,
		"added", report.Added,
		"failed_batches", report.FailedBatches,
	)
	return report, nil
}


// resolveFailed re-runs resolution for the unresolved results that carry a
// cause and writes the new results back in place.
func (s *MemberService) resolveFailed(ctx context.Context, resolution *model.ResolutionReport, memberIDs []string) error {
	var (
		idx   []int
		retry []string
	)
	for i, res := range resolution.Results {
		if res.Outcome == model.OutcomeUnresolved && res.Cause != nil {
			idx = append(idx, i)
			retry = append(retry, res.Candidate)
		}
	}
	if len(retry) == 0 {
		return nil
	}
	s.logger.Info("retrying candidates with renewed credential", "count", len(retry))

	again, err := s.resolver.Resolve(ctx, retry, memberIDs)
	for i, res := range again.Results {
		resolution.Results[idx[i]] = res
	}
	return err
}
