// Package outlook reads calendar, contact and Teams change feeds from
// Microsoft Graph.
package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	abstractions "github.com/microsoft/kiota-abstractions-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/rs/zerolog/log"

	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// DefaultPageSize is sent as odata.maxpagesize on fresh delta requests.
const DefaultPageSize int32 = 50

// Client talks to Graph on behalf of one mailbox user.
type Client struct {
	graph  *msgraphsdk.GraphServiceClient
	userID string
}

// New creates a client authenticated with a broker-issued access token.
func New(accessToken, userID string) (*Client, error) {
	cred := &staticTokenCredential{token: accessToken}

	graph, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}
	return &Client{graph: graph, userID: userID}, nil
}

// NewWithAdapter creates a client over an existing request adapter.
func NewWithAdapter(adapter abstractions.RequestAdapter, userID string) *Client {
	return &Client{graph: msgraphsdk.NewGraphServiceClient(adapter), userID: userID}
}

// staticTokenCredential hands the Graph SDK a token obtained elsewhere.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}

// freshHeaders carries the page size and, for calendars, the time zone the
// dateTime fields are reported in.
func freshHeaders(pageSize int32, utc bool) *abstractions.RequestHeaders {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	headers := abstractions.NewRequestHeaders()
	prefer := fmt.Sprintf("odata.maxpagesize=%d", pageSize)
	if utc {
		prefer += `, outlook.timezone="UTC"`
	}
	headers.Add("Prefer", prefer)
	return headers
}

// Error codes Graph returns for a delta token it no longer accepts.
var expiredCodes = []string{"syncstatenotfound", "syncstateinvalid", "resyncrequired"}

// wrap maps Graph errors onto the sync sentinels.
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	status, code := graphStatus(err)
	if status == http.StatusGone {
		return fmt.Errorf("%s: %w: %v", op, sync.ErrCursorExpired, err)
	}
	for _, c := range expiredCodes {
		if strings.EqualFold(code, c) {
			return fmt.Errorf("%s: %w: %v", op, sync.ErrCursorExpired, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func graphStatus(err error) (int, string) {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		code := ""
		if main := odataErr.GetErrorEscaped(); main != nil && main.GetCode() != nil {
			code = *main.GetCode()
		}
		return odataErr.ResponseStatusCode, code
	}
	var apiErr *abstractions.ApiError
	if errors.As(err, &apiErr) {
		return apiErr.ResponseStatusCode, ""
	}
	return 0, ""
}

// deltaPage assembles a feed page from one Graph delta response. Items
// without an id are dropped.
func deltaPage[T any, V interface{ GetId() *string }](values []V, next, delta *string, convert func(V) sync.Change[T]) *sync.Page[T] {
	page := &sync.Page[T]{Changes: make([]sync.Change[T], 0, len(values))}
	for _, v := range values {
		if v.GetId() == nil || *v.GetId() == "" {
			log.Warn().Msg("skipping delta item without id")
			continue
		}
		page.Changes = append(page.Changes, convert(v))
	}
	switch {
	case delta != nil && *delta != "":
		page.Next = sync.DeltaLink(*delta)
	case next != nil:
		page.Next = sync.NextPage(*next)
	default:
		page.Next = sync.NextPage("")
	}
	return page
}

// removed reports the @removed annotation Graph puts on delta tombstones.
func removed(additional map[string]any) bool {
	_, ok := additional["@removed"]
	return ok
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func str(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// enum turns an optional Graph enum into an optional string.
func enum[E fmt.Stringer](e *E) *string {
	if e == nil {
		return nil
	}
	s := (*e).String()
	return &s
}

func int32Ptr(i int32) *int32 {
	return &i
}
