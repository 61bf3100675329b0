package settings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

type SQLiteStoreSuite struct {
	storeContract
	sqlite *SQLiteStore
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, new(SQLiteStoreSuite))
}

func (s *SQLiteStoreSuite) SetupTest() {
	path := filepath.Join(s.T().TempDir(), "nested", "gatekeeper.db")
	store, err := NewSQLite(path)
	s.Require().NoError(err)
	s.sqlite = store
	s.store = store
}

func (s *SQLiteStoreSuite) TearDownTest() {
	s.Require().NoError(s.sqlite.Close())
}

func (s *SQLiteStoreSuite) TestReopenKeepsPolicy() {
	ctx := context.Background()
	path := filepath.Join(s.T().TempDir(), "reopen.db")

	first, err := NewSQLite(path)
	s.Require().NoError(err)
	s.Require().NoError(first.SavePolicy(ctx, -42, samplePolicy()))
	s.Require().NoError(first.Close())

	second, err := NewSQLite(path)
	s.Require().NoError(err)
	defer second.Close()
	got, err := second.GetPolicy(ctx, -42)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(samplePolicy(), *got)
}
