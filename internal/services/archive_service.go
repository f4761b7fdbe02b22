package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dawos/agent/internal/agent"
	"github.com/dawos/agent/internal/storage"
	"github.com/dawos/agent/internal/utils"
)

const defaultArchivePrefix = "agent-runs"

// ArchiveService copies full run traces to object storage.
type ArchiveService interface {
	Archive(ctx context.Context, userID, runID string, res *agent.Result) (string, error)
	DownloadURL(ctx context.Context, userID, runID string, ttl time.Duration) (string, error)
}

type archiveService struct {
	up     storage.Uploader
	signer storage.Signer
	prefix string
}

// NewArchiveService accepts a nil signer when downloads are not offered.
func NewArchiveService(up storage.Uploader, signer storage.Signer, prefix string) ArchiveService {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	return &archiveService{up: up, signer: signer, prefix: prefix}
}

func (s *archiveService) objectName(userID, runID string) string {
	return path.Join(s.prefix, userID, runID+".json")
}

func (s *archiveService) Archive(ctx context.Context, userID, runID string, res *agent.Result) (string, error) {
	const op = "ArchiveService.Archive"

	if userID == "" || runID == "" || res == nil {
		return "", utils.E(utils.CodeInvalidArgument, op, "user_id, run_id and result are required", nil)
	}
	body, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to encode trace", err)
	}
	stored, err := s.up.Upload(ctx, s.objectName(userID, runID), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", utils.E(utils.CodeUnavailable, op, "failed to upload trace archive", err)
	}
	return stored, nil
}

func (s *archiveService) DownloadURL(ctx context.Context, userID, runID string, ttl time.Duration) (string, error) {
	const op = "ArchiveService.DownloadURL"

	if s.signer == nil {
		return "", utils.E(utils.CodePrecondition, op, "archive downloads are not configured", nil)
	}
	url, err := s.signer.SignedGetURL(ctx, s.objectName(userID, runID), ttl)
	if err != nil {
		return "", utils.E(utils.CodeUnavailable, op, fmt.Sprintf("failed to sign archive for run %s", runID), err)
	}
	return url, nil
}
