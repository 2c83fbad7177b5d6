package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	tests := []struct {
		kind     model.ErrorKind
		sentinel error
	}{
		{model.KindMalformed, model.ErrMalformed},
		{model.KindExpired, model.ErrExpired},
		{model.KindForbidden, model.ErrForbidden},
		{model.KindRateLimited, model.ErrRateLimited},
		{model.KindTransient, model.ErrTransient},
		{model.KindCorruptRecord, model.ErrCorruptRecord},
		{model.KindNotFound, model.ErrNotFound},
		{model.KindRejected, model.ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := fmt.Errorf("outer: %w", model.NewError(tt.kind, "op", nil))
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.kind, model.KindOf(err))
		})
	}
}

func TestError_DoesNotMatchOtherKinds(t *testing.T) {
	err := model.NewError(model.KindExpired, "validate credential", nil)

	assert.NotErrorIs(t, err, model.ErrForbidden)
	assert.NotErrorIs(t, err, model.ErrMalformed)
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &model.Error{Kind: model.KindTransient, Op: "lookup users", Status: 502, Attempts: 4, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, model.ErrTransient)
	assert.Equal(t, "lookup users: transient (status 502) after 4 attempts: connection reset", err.Error())
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, model.KindUnknown, model.KindOf(errors.New("plain")))
	assert.Equal(t, model.KindUnknown, model.KindOf(nil))
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "****", model.RedactToken("short"))
	assert.Equal(t, "AbCd...6789", model.RedactToken("AbCdEfGhIjKlMnOp|1234567890|QrStUvWxYz0123456789"))
}

func TestResolutionReport_CountsAndNewMembers(t *testing.T) {
	r := model.ResolutionReport{Results: []model.ResolutionResult{
		{Candidate: "a", Outcome: model.OutcomeResolved, MemberID: "U1"},
		{Candidate: "b", Outcome: model.OutcomeAlreadyMember, MemberID: "U2"},
		{Candidate: "c", Outcome: model.OutcomeUnresolved},
		{Candidate: "d", Outcome: model.OutcomeResolved, MemberID: "U1"},
	}}

	resolved, already, unresolved := r.Counts()
	assert.Equal(t, 2, resolved)
	assert.Equal(t, 1, already)
	assert.Equal(t, 1, unresolved)
	assert.Equal(t, []string{"U1"}, r.NewMemberIDs())
	assert.Len(t, r.Unresolved(), 1)
}
