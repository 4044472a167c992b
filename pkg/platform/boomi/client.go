package boomi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/platform"
)

// Provider is the registry name of this client.
const Provider = "boomi"

// DefaultBaseURL is the public AtomSphere REST endpoint. The account id is appended.
const DefaultBaseURL = "https://api.boomi.com/api/rest/v1"

const maxErrorBody = 2048

// noRetryKey marks requests that must reach the platform at most once.
type noRetryKey struct{}

// Client talks to the AtomSphere REST API for one account.
type Client struct {
	http     *retryablehttp.Client
	baseURL  string
	username string
	password string

	defaultInstance string

	logger   zerolog.Logger
	observer platform.CallObserver
}

var _ engine.PlatformClient = (*Client)(nil)

// Register adds the Boomi constructor to a registry.
func Register(r *platform.Registry) {
	r.Register(Provider, NewClient)
}

// NewClient creates a client for creds. It satisfies platform.Constructor.
func NewClient(creds *engine.Credentials, opts platform.Options) (engine.PlatformClient, error) {
	return New(creds, opts)
}

// New creates a Client.
func New(creds *engine.Credentials, opts platform.Options) (*Client, error) {
	if creds == nil || creds.AccountID == "" {
		return nil, engine.NewValidationError("boomi account id is required")
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, engine.NewValidationError("boomi username and password are required").WithResource(creds.AccountID)
	}

	base := strings.TrimRight(opts.HTTP.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.HTTP.RetryMax
	if opts.HTTP.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.HTTP.RetryWaitMin
	}
	if opts.HTTP.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.HTTP.RetryWaitMax
	}
	if opts.HTTP.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.HTTP.Timeout
	}
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{logger: opts.Logger}

	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Client{
		http:            rc,
		baseURL:         base + "/" + url.PathEscape(creds.AccountID),
		username:        creds.Username,
		password:        creds.Password,
		defaultInstance: creds.ExecutionInstanceID,
		logger:          opts.Logger,
		observer:        observer,
	}, nil
}

// GetComponentInfoAndDependencies fetches component metadata and the ids the
// component's current version references.
func (c *Client) GetComponentInfoAndDependencies(ctx context.Context, componentID string) (*engine.ComponentInfo, error) {
	var meta componentMetadata
	status, err := c.doJSON(ctx, "component_metadata", http.MethodGet, "/ComponentMetadata/"+url.PathEscape(componentID), nil, &meta)
	if err != nil {
		if status == http.StatusBadRequest || status == http.StatusNotFound {
			return nil, engine.NewNotFoundError("component", componentID)
		}
		return nil, err
	}

	deps, err := c.references(ctx, componentID, int(meta.Version))
	if err != nil {
		return nil, err
	}

	name := meta.Name
	if name == "" {
		name = componentID
	}
	return &engine.ComponentInfo{
		ID:            componentID,
		Name:          name,
		Type:          meta.Type,
		Version:       int(meta.Version),
		DependencyIDs: deps,
	}, nil
}

// references runs the ComponentReference query for one parent version,
// following query tokens until the result set is exhausted.
func (c *Client) references(ctx context.Context, componentID string, version int) ([]string, error) {
	query := queryRequest{QueryFilter: queryFilter{Expression: queryExpression{
		Operator: "and",
		NestedExpression: []queryExpression{
			{Operator: "EQUALS", Property: "parentComponentId", Argument: []any{componentID}},
			{Operator: "EQUALS", Property: "parentVersion", Argument: []any{version}},
		},
	}}}

	var page componentReferenceQueryResponse
	if _, err := c.doJSON(ctx, "component_references", http.MethodPost, "/ComponentReference/query", query, &page); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for {
		for _, result := range page.Result {
			for _, ref := range result.References {
				if ref.ComponentID == "" || seen[ref.ComponentID] {
					continue
				}
				seen[ref.ComponentID] = true
				ids = append(ids, ref.ComponentID)
			}
		}
		if page.QueryToken == "" {
			return ids, nil
		}

		token := page.QueryToken
		page = componentReferenceQueryResponse{}
		if _, err := c.doRaw(ctx, "component_references", http.MethodPost, "/ComponentReference/queryMore",
			"text/plain", []byte(token), &page); err != nil {
			return nil, err
		}
	}
}

// SubmitTest requests an execution of the test process. The request is sent
// at most once per call; retries belong to the caller.
func (c *Client) SubmitTest(ctx context.Context, testComponentID string, opts engine.SubmitOptions) (*engine.JobHandle, error) {
	instance := opts.ExecutionInstanceID
	if instance == "" {
		instance = c.defaultInstance
	}
	if instance == "" {
		return nil, engine.NewValidationError("execution instance id is required").WithResource(testComponentID)
	}

	body := executionRequest{Type: "ExecutionRequest", AtomID: instance, ProcessID: testComponentID}

	var resp executionRequestResponse
	if _, err := c.doJSON(context.WithValue(ctx, noRetryKey{}, true), "execution_request", http.MethodPost,
		"/ExecutionRequest", body, &resp); err != nil {
		return nil, err
	}
	if resp.RequestID == "" {
		return nil, engine.NewPermanentError("execution request returned no request id", nil).
			WithResource(testComponentID).WithOperation("submit")
	}

	c.logger.Debug().Str("test_component_id", testComponentID).Str("request_id", resp.RequestID).Msg("Execution requested")
	return &engine.JobHandle{ID: resp.RequestID, LogURL: resp.RecordURL}, nil
}

// PollTest reads the asynchronous execution record of a submitted job.
func (c *Client) PollTest(ctx context.Context, handle *engine.JobHandle) (*engine.JobStatus, error) {
	if handle == nil || handle.ID == "" {
		return nil, engine.NewValidationError("job handle is required")
	}

	var resp executionRecordResponse
	if _, err := c.doJSON(ctx, "execution_record", http.MethodGet,
		"/ExecutionRecord/async/"+url.PathEscape(handle.ID), nil, &resp); err != nil {
		return nil, err
	}

	if resp.ResponseStatusCode != http.StatusOK {
		return &engine.JobStatus{State: engine.JobStateRunning, LogURL: handle.LogURL}, nil
	}
	if len(resp.Result) == 0 {
		return &engine.JobStatus{
			State:   engine.JobStateFailed,
			Message: "Execution completed but no result record was found.",
			LogURL:  handle.LogURL,
		}, nil
	}

	return recordStatus(resp.Result[0], handle.LogURL), nil
}

func recordStatus(record executionRecord, logURL string) *engine.JobStatus {
	status := &engine.JobStatus{LogURL: logURL, TestCases: parseTestReport(record.Message)}

	switch strings.ToUpper(record.Status) {
	case recordStatusComplete, recordStatusCompleteWarn:
		status.State = engine.JobStateSucceeded
		status.Message = "Execution completed successfully."
		if status.TestCases == nil && record.Message != "" {
			status.Message = record.Message
		}
	case recordStatusError, recordStatusAborted, recordStatusDiscarded:
		status.State = engine.JobStateFailed
		switch {
		case status.TestCases != nil:
			status.Message = "Test execution completed with assertion failures."
		case record.Message != "":
			status.Message = "Execution failed with message: " + record.Message
		default:
			status.Message = fmt.Sprintf("Execution ended with status %s.", record.Status)
		}
	default:
		status.State = engine.JobStateRunning
		status.TestCases = nil
	}
	return status
}

func (c *Client) doJSON(ctx context.Context, operation, method, path string, in, out any) (int, error) {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to encode %s request: %w", operation, err)
		}
	}
	return c.doRaw(ctx, operation, method, path, "application/json", body, out)
}

// doRaw sends one request and decodes a 2xx JSON response into out. Non-2xx
// responses are classified into engine errors; the returned status code is 0
// when no response was received.
func (c *Client) doRaw(ctx context.Context, operation, method, path, contentType string, body []byte, out any) (int, error) {
	var reqBody any
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observer.ObservePlatformCall(Provider, operation, "error", time.Since(start))
		if ctx.Err() != nil {
			return 0, engine.NewTransientError(operation+" cancelled", ctx.Err()).WithOperation(operation)
		}
		return 0, engine.NewTransientError(operation+" request failed", err).WithOperation(operation)
	}
	defer resp.Body.Close()
	c.observer.ObservePlatformCall(Provider, operation, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, classify(operation, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return resp.StatusCode, engine.NewTransientError("failed to decode "+operation+" response", err).WithOperation(operation)
	}
	return resp.StatusCode, nil
}

func classify(operation string, status int, body []byte) error {
	msg := fmt.Sprintf("%s returned HTTP %d", operation, status)
	if len(body) > 0 {
		msg += ": " + string(body)
	}

	var e *engine.EngineError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = engine.NewAuthError("platform authentication failed; check the credential profile", nil)
	case status == http.StatusTooManyRequests:
		e = engine.NewThrottledError(msg, nil)
	case status >= 500:
		e = engine.NewTransientError(msg, nil)
	default:
		e = engine.NewPermanentError(msg, nil)
	}
	return e.WithOperation(operation).WithDetail("http_status", status)
}

// checkRetry retries transport errors, 429, 503 and 504 unless the request is
// marked with noRetryKey.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if once, _ := ctx.Value(noRetryKey{}).(bool); once {
		return false, nil
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

type nopObserver struct{}

func (nopObserver) ObservePlatformCall(string, string, string, time.Duration) {}
