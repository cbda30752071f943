package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// DBRepositoryTestSuite provides a base test suite for repository tests
type DBRepositoryTestSuite struct {
	suite.Suite
	db           *gorm.DB
	ctx          context.Context
	jobRepo      *JobRepository
	approvalRepo *ApprovalRepository
	requestRepo  *RequestRepository
	auditRepo    *AuditRepository
	store        *Store
	seq          uint64
}

func (s *DBRepositoryTestSuite) SetupTest() {
	// Each test gets its own named in-memory database so suites never share rows
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_json=1", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")

	err = db.AutoMigrate(&models.Job{}, &models.ApprovalRecord{}, &models.ServiceRequest{}, &models.AuditEntry{})
	require.NoError(s.T(), err, "Failed to run database migrations")

	s.db = db
	s.jobRepo = NewJobRepository(s.db)
	s.approvalRepo = NewApprovalRepository(s.db)
	s.requestRepo = NewRequestRepository(s.db)
	s.auditRepo = NewAuditRepository(s.db)
	s.store = NewStore(s.db)
	s.ctx = context.Background()
	s.seq = 0
}

func (s *DBRepositoryTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// Helper methods for creating test data

func (s *DBRepositoryTestSuite) createTestJob(state models.JobState) *models.Job {
	s.seq++
	job := &models.Job{
		ID:          uuid.NewString(),
		RequestID:   fmt.Sprintf("REQ-%04d", s.seq),
		Kind:        models.JobKindAccountCreation,
		Payload:     models.Payload{"user": "alice", "department": "finance"},
		Priority:    models.PriorityNormal,
		State:       state,
		Sequence:    s.seq,
		EnqueuedAt:  time.Now().Add(time.Duration(s.seq) * time.Millisecond),
		SLADeadline: time.Now().Add(8 * time.Hour),
	}
	if state.IsTerminal() {
		finished := time.Now()
		job.FinishedAt = &finished
	}
	s.Require().NoError(s.jobRepo.Save(s.ctx, job))
	return job
}

func (s *DBRepositoryTestSuite) createTestRequest() *models.ServiceRequest {
	req := &models.ServiceRequest{
		ID:            "REQ-" + uuid.NewString()[:8],
		RequesterID:   "u-100",
		Kind:          models.JobKindGroupAccessGrant,
		Priority:      models.PriorityHigh,
		Payload:       models.Payload{"group": "finance-readers", "user": "bob"},
		CostEstimate:  250,
		Justification: "quarter close",
		SubmittedAt:   time.Now(),
	}
	s.Require().NoError(s.requestRepo.Save(s.ctx, req))
	return req
}
