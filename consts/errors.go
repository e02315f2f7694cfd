package consts

import "errors"

var (
	ErrIngestAlreadyRunning = errors.New("ingestion already running")
	ErrIngestNotRunning     = errors.New("no ingestion running")
	ErrNotADirectory        = errors.New("path is not a directory")

	ErrDBNotFound                = errors.New("not found")
	ErrDBBeginTransactionFailed  = errors.New("start transaction failed")
	ErrDBCommitTransactionFailed = errors.New("commit failed")
	ErrDBInsertFailed            = errors.New("insert failed")
)
