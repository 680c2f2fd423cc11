package user

import (
	"github.com/trezcool/darasa/core"
)

// NewTestService returns a Service fit for unit tests: no DB transactions, test config.
func NewTestService(repo Repository, mailSvc core.EmailService, storage core.FileStorage) Service {
	return NewService(nil, repo, mailSvc, storage, core.NewTestConfig())
}
