package application_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/application"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

func newMemberFixture(dir *mockDirectory, batchSize int) *application.MemberService {
	resolver := application.NewBulkResolver(dir, application.ResolverOptions{FallbackDomains: []string{}}, nil)
	return application.NewMemberService(dir, resolver, batchSize, nil)
}

func fiveUsers() map[string]string {
	return map[string]string{
		"u1@x.com": "U1",
		"u2@x.com": "U2",
		"u3@x.com": "U3",
		"u4@x.com": "U4",
		"u5@x.com": "U5",
	}
}

var fiveCandidates = []string{"u1@x.com", "u2@x.com", "u3@x.com", "u4@x.com", "u5@x.com"}

func TestMemberService_AddsNewMembersInBatches(t *testing.T) {
	dir := &mockDirectory{
		getFolder: func(id string) (model.Folder, error) {
			return model.Folder{ID: id, Title: "Runbooks", MemberIDs: []string{"U1"}}, nil
		},
		lookupUsers: usersByAddress(fiveUsers()),
	}
	svc := newMemberFixture(dir, 2)

	report, err := svc.AddUsers(context.Background(), "FOLDER1", fiveCandidates)
	require.NoError(t, err)

	assert.Equal(t, "FOLDER1", report.FolderID)
	assert.Equal(t, 4, report.Added)
	assert.Zero(t, report.FailedBatches)
	assert.Equal(t, [][]string{{"U2", "U3"}, {"U4", "U5"}}, dir.addCalls)

	resolved, already, unresolved := report.Resolution.Counts()
	assert.Equal(t, 4, resolved)
	assert.Equal(t, 1, already)
	assert.Zero(t, unresolved)
}

func TestMemberService_FailedBatchIsCounted(t *testing.T) {
	dir := &mockDirectory{
		lookupUsers: usersByAddress(fiveUsers()),
		addMembers: func(_ string, ids []string) error {
			if ids[0] == "U3" {
				return transientErr()
			}
			return nil
		},
	}
	svc := newMemberFixture(dir, 2)

	report, err := svc.AddUsers(context.Background(), "FOLDER1", fiveCandidates)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Added)
	assert.Equal(t, 1, report.FailedBatches)
	require.Len(t, report.BatchErrors, 1)
	assert.ErrorIs(t, report.BatchErrors[0], model.ErrTransient)
	assert.Len(t, dir.addCalls, 3)
}

func TestMemberService_ForbiddenAddStopsRun(t *testing.T) {
	dir := &mockDirectory{
		lookupUsers: usersByAddress(fiveUsers()),
		addMembers: func(string, []string) error {
			return &model.Error{Kind: model.KindForbidden, Op: "add members", Status: 403}
		},
	}
	svc := newMemberFixture(dir, 2)

	report, err := svc.AddUsers(context.Background(), "FOLDER1", fiveCandidates)
	require.Error(t, err)

	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.Zero(t, report.Added)
	assert.Len(t, dir.addCalls, 1)
}

func TestMemberService_FolderError(t *testing.T) {
	dir := &mockDirectory{
		getFolder: func(string) (model.Folder, error) {
			return model.Folder{}, &model.Error{Kind: model.KindNotFound, Op: "get folder", Status: 404}
		},
	}
	svc := newMemberFixture(dir, 0)

	_, err := svc.AddUsers(context.Background(), "MISSING", fiveCandidates)
	require.Error(t, err)

	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, dir.bulks())
}

func TestMemberService_NothingToAdd(t *testing.T) {
	dir := &mockDirectory{
		getFolder: func(id string) (model.Folder, error) {
			return model.Folder{ID: id, MemberIDs: []string{"U1", "U2", "U3", "U4", "U5"}}, nil
		},
		lookupUsers: usersByAddress(fiveUsers()),
	}
	svc := newMemberFixture(dir, 0)

	report, err := svc.AddUsers(context.Background(), "FOLDER1", fiveCandidates)
	require.NoError(t, err)

	assert.Zero(t, report.Added)
	assert.Empty(t, dir.addCalls)
}

func TestMemberService_ResolutionErrorReturnsPartialReport(t *testing.T) {
	dir := &mockDirectory{
		lookupUsers: func([]string) (map[string]model.UserInfo, error) {
			return nil, &model.Error{Kind: model.KindExpired, Op: "lookup users", Status: 401, Err: errors.New("token expired")}
		},
	}
	svc := newMemberFixture(dir, 0)

	report, err := svc.AddUsers(context.Background(), "FOLDER1", fiveCandidates)
	require.Error(t, err)

	assert.ErrorIs(t, err, model.ErrExpired)
	assert.Len(t, report.Resolution.Results, len(fiveCandidates))
	assert.Empty(t, dir.addCalls)
}

func expiredErr() error {
	return &model.Error{Kind: model.KindExpired, Op: "lookup users", Status: 401, Err: errors.New("token expired")}
}

func TestMemberService_RenewsExpiredCredentialAndRetriesCandidates(t *testing.T) {
	var renewed atomic.Bool
	dir := &mockDirectory{
		lookupUsers: func(ids []string) (map[string]model.UserInfo, error) {
			if !renewed.Load() {
				return nil, expiredErr()
			}
			return usersByAddress(fiveUsers())(ids)
		},
	}
	svc := newMemberFixture(dir, 0)
	renewals := 0
	svc.SetRenewer(func(context.Context) error {
		renewals++
		renewed.Store(true)
		return nil
	})

	report, err := svc.AddUsers(context.Background(), "FOLDER1", fiveCandidates)
	require.NoError(t, err)

	assert.Equal(t, 1, renewals)
	assert.Equal(t, 5, report.Added)
	for i, res := range report.Resolution.Results {
		assert.Equal(t, fiveCandidates[i], res.Candidate)
		assert.Equal(t, model.OutcomeResolved, res.Outcome, "candidate %d", i)
		assert.NoError(t, res.Cause)
	}
	assert.Len(t, dir.bulks(), 2)
}

func TestMemberService_RenewalFailureKeepsBothErrors(t *testing.T) {
	dir := &mockDirectory{
		lookupUsers: func([]string) (map[string]model.UserInfo, error) {
			return nil, expiredErr()
		},
	}
	svc := newMemberFixture(dir, 0)
	svc.SetRenewer(func(context.Context) error {
		return application.ErrPromptAttemptsExhausted
	})

	report, err := svc.AddUsers(context.Background(), "FOLDER1", fiveCandidates)
	require.Error(t, err)

	assert.ErrorIs(t, err, model.ErrExpired)
	assert.ErrorIs(t, err, application.ErrPromptAttemptsExhausted)
	assert.Len(t, report.Resolution.Results, len(fiveCandidates))
	assert.Len(t, dir.bulks(), 1)
	assert.Empty(t, dir.addCalls)
}

func TestMemberService_RenewsOnlyOnce(t *testing.T) {
	dir := &mockDirectory{
		lookupUsers: func([]string) (map[string]model.UserInfo, error) {
			return nil, expiredErr()
		},
	}
	svc := newMemberFixture(dir, 0)
	renewals := 0
	svc.SetRenewer(func(context.Context) error {
		renewals++
		return nil
	})

	_, err := svc.AddUsers(context.Background(), "FOLDER1", fiveCandidates)
	require.Error(t, err)

	assert.ErrorIs(t, err, model.ErrExpired)
	assert.Equal(t, 1, renewals)
	assert.Len(t, dir.bulks(), 2)
}

func TestMemberService_RenewsAndRetriesExpiredBatch(t *testing.T) {
	var renewed atomic.Bool
	dir := &mockDirectory{
		lookupUsers: usersByAddress(fiveUsers()),
		addMembers: func(_ string, ids []string) error {
			if ids[0] == "U3" && !renewed.Load() {
				return expiredErr()
			}
			return nil
		},
	}
	svc := newMemberFixture(dir, 2)
	svc.SetRenewer(func(context.Context) error {
		renewed.Store(true)
		return nil
	})

	report, err := svc.AddUsers(context.Background(), "FOLDER1", fiveCandidates)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Added)
	assert.Zero(t, report.FailedBatches)
	assert.Equal(t, [][]string{{"U1", "U2"}, {"U3", "U4"}, {"U3", "U4"}, {"U5"}}, dir.addCalls)
}

func TestMemberService_ExpiredWithoutRenewerStops(t *testing.T) {
	dir := &mockDirectory{
		lookupUsers: usersByAddress(fiveUsers()),
		addMembers: func(string, []string) error {
			return expiredErr()
		},
	}
	svc := newMemberFixture(dir, 2)

	report, err := svc.AddUsers(context.Background(), "FOLDER1", fiveCandidates)
	require.Error(t, err)

	assert.ErrorIs(t, err, model.ErrExpired)
	assert.Zero(t, report.Added)
	assert.Len(t, dir.addCalls, 1)
}
