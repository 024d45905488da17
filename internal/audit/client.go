// Package audit provides a retry-wrapped GraphQL mutation client for
// recording job progress in an external audit store. Delivery is
// best-effort: retries are bounded, exhaustion is logged for operator
// follow-up, and no failure here ever blocks job processing.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAdminSecret = "x-hasura-admin-secret"
	contentTypeJSON   = "application/json"
)

// GraphQL mutations.
const (
	createProjectMutation = `
mutation CreateProject($id: uuid!, $blocks: jsonb) {
  insert_Voice_Studio_Projects_one(object: {id: $id, blocks: $blocks}) {
    id
  }
}`

	linkProjectStorageMutation = `
mutation LinkProjectStorage($projectid: uuid!, $project_link: String!) {
  insert_library_Project_link_Storage_one(object: {projectid: $projectid, project_link: $project_link}) {
    id
  }
}`

	insertBlockMutation = `
mutation InsertBlock($project_id: uuid, $content: String, $s3_url: String, $block_index: String, $created_at: timestamptz) {
  insert_Voice_Studio_blocks(objects: {project_id: $project_id, content: $content, s3_url: $s3_url, block_index: $block_index, created_at: $created_at}) {
    affected_rows
  }
}`
)

// Static errors.
var (
	// ErrDeliveryExhausted indicates the configured attempt budget was spent
	// without a successful delivery.
	ErrDeliveryExhausted = errors.New("audit delivery exhausted")
	// ErrMutationRejected indicates the endpoint accepted the transport but
	// rejected the mutation; rejections are never retried.
	ErrMutationRejected = errors.New("audit mutation rejected")
	// ErrInvalidJobID indicates the job id is not a well-formed UUID.
	ErrInvalidJobID = errors.New("job id is not a valid uuid")
	// ErrEmptyLocator indicates a storage link mutation without a locator.
	ErrEmptyLocator = errors.New("locator cannot be empty")
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Client sends audit mutations with bounded exponential-backoff retries. It
// retries transport-level errors only; an application-level rejection is
// treated as fatal for that mutation and logged for manual investigation.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	adminSecret string
	maxAttempts uint64
	minDelay    time.Duration
	maxDelay    time.Duration
	log         *logger.Logger
}

// New creates an audit client. The timeout applies per attempt, separately
// from the retry policy.
func New(
	endpoint, adminSecret string,
	maxAttempts int,
	minDelay, maxDelay, timeout time.Duration,
	log *logger.Logger,
) *Client {
	// The bound feeds an unsigned retry budget; anything below one attempt
	// would underflow it into an effectively unbounded loop.
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Client{
		endpoint:    endpoint,
		adminSecret: adminSecret,
		maxAttempts: uint64(maxAttempts),
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		log:         log,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateProject records a newly submitted job.
func (c *Client) CreateProject(ctx context.Context, jobID, blocksJSON string) error {
	if !c.validateJobID(jobID) {
		return nil
	}

	return c.execute(ctx, createProjectMutation, map[string]any{
		"id":     jobID,
		"blocks": blocksJSON,
	})
}

// LinkProjectStorage records the final artifact locator of a completed job.
func (c *Client) LinkProjectStorage(ctx context.Context, jobID, locator string) error {
	if !c.validateJobID(jobID) {
		return nil
	}

	if locator == "" {
		c.log.Error("Validation failed for job %s: %v. Aborting audit write.", jobID, ErrEmptyLocator)

		return nil
	}

	return c.execute(ctx, linkProjectStorageMutation, map[string]any{
		"projectid":    jobID,
		"project_link": locator,
	})
}

// InsertBlock records one completed block.
func (c *Client) InsertBlock(ctx context.Context, projectID, content, locator, blockIndex string) error {
	if !c.validateJobID(projectID) {
		return nil
	}

	return c.execute(ctx, insertBlockMutation, map[string]any{
		"project_id":  projectID,
		"content":     content,
		"s3_url":      locator,
		"block_index": blockIndex,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	})
}

// validateJobID checks the id is a well-formed UUID. A malformed id skips
// the mutation entirely rather than retrying a call that can never succeed.
func (c *Client) validateJobID(jobID string) bool {
	_, err := uuid.Parse(jobID)
	if err != nil {
		c.log.Error("Validation failed for job %s: %v. Aborting audit write.", jobID, err)

		return false
	}

	return true
}

// execute delivers one mutation under the retry policy.
func (c *Client) execute(ctx context.Context, mutation string, variables map[string]any) error {
	payload, err := json.Marshal(graphqlRequest{
		Query:     mutation,
		Variables: variables,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal mutation payload: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.minDelay
	policy.MaxInterval = c.maxDelay

	attempt := func() error {
		return c.attempt(ctx, payload)
	}

	err = backoff.Retry(
		attempt,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.maxAttempts-1), ctx),
	)
	if err == nil {
		return nil
	}

	// backoff unwraps Permanent errors before returning them, so rejections
	// are recognized by their sentinel.
	if errors.Is(err, ErrMutationRejected) {
		c.log.Error("Audit mutation rejected without retry: %v", err)

		return err
	}

	c.log.Error(
		"CRITICAL: audit mutation failed after %d attempts: %v. This job needs manual investigation.",
		c.maxAttempts, err,
	)

	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryExhausted, c.maxAttempts, err)
}

// attempt performs a single delivery. Transport errors are returned as-is so
// the retry policy can act on them; application-level rejections are wrapped
// as permanent.
func (c *Client) attempt(ctx context.Context, payload []byte) error {
	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload),
	)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAdminSecret, c.adminSecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Transport-level failure: retriable.
		return fmt.Errorf("audit endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audit response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return backoff.Permanent(fmt.Errorf("%w: status %s, body: %s",
			ErrMutationRejected, resp.Status, string(body)))
	}

	var decoded graphqlResponse

	err = json.Unmarshal(body, &decoded)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode audit response: %w", err))
	}

	if len(decoded.Errors) > 0 {
		return backoff.Permanent(fmt.Errorf("%w: %s",
			ErrMutationRejected, decoded.Errors[0].Message))
	}

	return nil
}
