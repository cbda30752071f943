package repos

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

type AuditRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func TestAuditRepository(t *testing.T) {
	suite.Run(t, new(AuditRepositoryTestSuite))
}

func (s *AuditRepositoryTestSuite) writeEntries(base time.Time) {
	types := []models.AuditEventType{
		models.AuditSecurityDecision,
		models.AuditJobTransition,
		models.AuditExternalCall,
		models.AuditJobTransition,
	}
	for i, et := range types {
		err := s.auditRepo.Write(s.ctx, models.AuditEntry{
			Sequence:  uint64(i + 1),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Actor:     "system/scheduler",
			EventType: et,
			SubjectID: fmt.Sprintf("job-%d", i%2),
			Detail:    map[string]string{"i": fmt.Sprint(i)},
			Hash:      fmt.Sprintf("hash-%d", i),
		})
		s.Require().NoError(err)
	}
}

func (s *AuditRepositoryTestSuite) TestListFilters() {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.writeEntries(base)

	all, err := s.auditRepo.List(s.ctx, models.AuditFilter{})
	s.NoError(err)
	s.Require().Len(all, 4)
	for i := range all {
		s.Equal(uint64(i+1), all[i].Sequence)
	}

	bySubject, err := s.auditRepo.List(s.ctx, models.AuditFilter{SubjectID: "job-1"})
	s.NoError(err)
	s.Len(bySubject, 2)

	byType, err := s.auditRepo.List(s.ctx, models.AuditFilter{EventTypes: []models.AuditEventType{models.AuditJobTransition}})
	s.NoError(err)
	s.Len(byType, 2)

	byRange, err := s.auditRepo.List(s.ctx, models.AuditFilter{From: base.Add(time.Second), To: base.Add(2 * time.Second)})
	s.NoError(err)
	s.Len(byRange, 2)

	limited, err := s.auditRepo.List(s.ctx, models.AuditFilter{Limit: 1})
	s.NoError(err)
	s.Len(limited, 1)
}

func (s *AuditRepositoryTestSuite) TestLast() {
	_, err := s.auditRepo.Last(s.ctx)
	s.True(errors.Is(err, ErrNotFound))

	s.writeEntries(time.Now())
	last, err := s.auditRepo.Last(s.ctx)
	s.NoError(err)
	s.Equal(uint64(4), last.Sequence)
	s.Equal("hash-3", last.Hash)
}

func (s *AuditRepositoryTestSuite) TestDuplicateSequenceRejected() {
	entry := models.AuditEntry{Sequence: 1, Timestamp: time.Now(), Actor: "a", EventType: models.AuditError, Hash: "h1"}
	s.NoError(s.auditRepo.Write(s.ctx, entry))
	entry.Hash = "h2"
	s.Error(s.auditRepo.Write(s.ctx, entry))
}
