package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/calrelay/calrelay/internal/platform/logutil"
)

const googleTokenURL = "https://oauth2.googleapis.com/token"

// GoogleConfig holds the service-account settings for the Calendar API.
type GoogleConfig struct {
	ClientEmail   string
	PrivateKey    string
	ProjectNumber string
	// ChannelToken is echoed back on Stop so the provider can match the channel.
	ChannelToken string
	// Endpoint overrides the API base URL.
	Endpoint string
}

// Google implements Provider on top of the Calendar v3 API.
type Google struct {
	svc          *gcal.Service
	channelToken string
	log          *slog.Logger
}

var _ Provider = (*Google)(nil)

// NewGoogle authenticates with a service-account JWT. base carries the
// outbound timeouts and is used for both token and API calls.
func NewGoogle(ctx context.Context, cfg GoogleConfig, base *http.Client, log *slog.Logger) (*Google, error) {
	if cfg.ClientEmail == "" || cfg.PrivateKey == "" {
		return nil, errors.New("calendar: client email and private key are required")
	}

	jwtCfg := &jwt.Config{
		Email:      cfg.ClientEmail,
		PrivateKey: []byte(cfg.PrivateKey),
		Scopes:     []string{gcal.CalendarReadonlyScope},
		TokenURL:   googleTokenURL,
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	httpClient := jwtCfg.Client(ctx)
	if base != nil {
		httpClient.Timeout = base.Timeout
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.ProjectNumber != "" {
		opts = append(opts, option.WithQuotaProject(cfg.ProjectNumber))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return newGoogle(svc, cfg.ChannelToken, log), nil
}

func newGoogle(svc *gcal.Service, channelToken string, log *slog.Logger) *Google {
	return &Google{svc: svc, channelToken: channelToken, log: logutil.NoopIfNil(log)}
}

// Watch opens a web_hook channel on the calendar's events collection.
func (g *Google) Watch(ctx context.Context, req WatchRequest) (*Channel, error) {
	ch := &gcal.Channel{
		Id:      req.ChannelID,
		Type:    "web_hook",
		Address: req.Address,
		Token:   req.Token,
	}
	if req.TTL > 0 {
		ch.Params = map[string]string{"ttl": strconv.FormatInt(int64(req.TTL/time.Second), 10)}
	}

	resp, err := g.svc.Events.Watch(req.CalendarID, ch).Context(ctx).Do()
	if err != nil {
		return nil, classify("events.watch", err)
	}
	if resp.ResourceId == "" {
		return nil, &UpstreamError{Op: "events.watch", Cause: errors.New("response has no resource id")}
	}

	out := &Channel{ID: resp.Id, ResourceID: resp.ResourceId}
	if resp.Expiration > 0 {
		out.Expiration = time.UnixMilli(resp.Expiration)
	}
	if out.ID == "" {
		out.ID = req.ChannelID
	}
	g.log.Debug("watch channel opened", "channel_id", out.ID, "resource_id", out.ResourceID, "expiration", out.Expiration)
	return out, nil
}

// Stop closes a channel.
func (g *Google) Stop(ctx context.Context, channelID, resourceID string) error {
	err := g.svc.Channels.Stop(&gcal.Channel{
		Id:         channelID,
		ResourceId: resourceID,
		Token:      g.channelToken,
	}).Context(ctx).Do()
	if err != nil {
		return classify("channels.stop", err)
	}
	return nil
}

// ListChanges pages through events.list until the provider hands out the
// next sync token.
func (g *Google) ListChanges(ctx context.Context, calendarID, syncToken string) (*ChangeSet, error) {
	out := &ChangeSet{}
	pageToken := ""
	for {
		call := g.svc.Events.List(calendarID).ShowDeleted(true).Context(ctx)
		if syncToken != "" {
			call = call.SyncToken(syncToken)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			return nil, classify("events.list", err)
		}
		for _, item := range page.Items {
			if item == nil {
				continue
			}
			out.Events = append(out.Events, toEvent(item))
		}

		if page.NextPageToken != "" {
			pageToken = page.NextPageToken
			continue
		}
		out.NextSyncToken = page.NextSyncToken
		return out, nil
	}
}

// classify maps API errors onto the package error taxonomy.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("calendar %s: %w", op, ErrNotFound)
		case http.StatusGone:
			return fmt.Errorf("calendar %s: %w", op, ErrSyncTokenExpired)
		}
		return &UpstreamError{Op: op, StatusCode: gerr.Code, Cause: err}
	}
	return &UpstreamError{Op: op, Cause: err}
}

func toEvent(item *gcal.Event) Event {
	ev := Event{
		ID:          item.Id,
		Status:      item.Status,
		Summary:     item.Summary,
		Description: item.Description,
		Start:       toEventTime(item.Start),
		End:         toEventTime(item.End),
	}
	if item.Creator != nil {
		ev.Creator = Person{DisplayName: item.Creator.DisplayName, Email: item.Creator.Email}
	}
	return ev
}

// toEventTime parses the provider's date or RFC 3339 timestamp. Malformed
// timestamps become the zero value and render as missing.
func toEventTime(dt *gcal.EventDateTime) EventTime {
	if dt == nil {
		return EventTime{}
	}
	if dt.Date != "" {
		return EventTime{Date: dt.Date}
	}
	if dt.DateTime == "" {
		return EventTime{}
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return EventTime{}
	}
	return EventTime{DateTime: t}
}
