package outlook

import (
	"context"

	"github.com/microsoftgraph/msgraph-sdk-go/models"
	graphteams "github.com/microsoftgraph/msgraph-sdk-go/teams"

	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// JoinedTeams lists every team the user is a member of.
func (c *Client) JoinedTeams(ctx context.Context) ([]model.Team, error) {
	builder := c.graph.Users().ByUserId(c.userID).JoinedTeams()
	resp, err := builder.Get(ctx, nil)
	if err != nil {
		return nil, wrap(err, "list joined teams")
	}

	var out []model.Team
	for {
		for _, t := range resp.GetValue() {
			if t.GetId() == nil {
				continue
			}
			out = append(out, model.Team{
				RemoteID:    *t.GetId(),
				DisplayName: str(t.GetDisplayName()),
				Description: str(t.GetDescription()),
			})
		}
		next := resp.GetOdataNextLink()
		if next == nil || *next == "" {
			return out, nil
		}
		if resp, err = builder.WithUrl(*next).Get(ctx, nil); err != nil {
			return nil, wrap(err, "list joined teams")
		}
	}
}

// Channels lists the channels of a team.
func (c *Client) Channels(ctx context.Context, teamRemoteID string) ([]model.Channel, error) {
	builder := c.graph.Teams().ByTeamId(teamRemoteID).Channels()
	resp, err := builder.Get(ctx, nil)
	if err != nil {
		return nil, wrap(err, "list channels")
	}

	var out []model.Channel
	for {
		for _, ch := range resp.GetValue() {
			if ch.GetId() == nil {
				continue
			}
			out = append(out, model.Channel{
				TeamRemoteID:   teamRemoteID,
				RemoteID:       *ch.GetId(),
				DisplayName:    str(ch.GetDisplayName()),
				Description:    str(ch.GetDescription()),
				MembershipType: enum(ch.GetMembershipType()),
				WebURL:         str(ch.GetWebUrl()),
				Email:          str(ch.GetEmail()),
			})
		}
		next := resp.GetOdataNextLink()
		if next == nil || *next == "" {
			return out, nil
		}
		if resp, err = builder.WithUrl(*next).Get(ctx, nil); err != nil {
			return nil, wrap(err, "list channels")
		}
	}
}

// ChannelMessages is the message delta feed of one channel.
func (c *Client) ChannelMessages(teamRemoteID, channelRemoteID string) sync.Feed[model.ChatMessage] {
	return &messagesFeed{c: c, team: teamRemoteID, channel: channelRemoteID}
}

type messagesFeed struct {
	c       *Client
	team    string
	channel string
}

func (f *messagesFeed) builder() *graphteams.ItemChannelsItemMessagesDeltaRequestBuilder {
	return f.c.graph.Teams().ByTeamId(f.team).Channels().ByChannelId(f.channel).Messages().Delta()
}

func (f *messagesFeed) StartFresh(ctx context.Context, opts sync.QueryOptions) (*sync.Page[model.ChatMessage], error) {
	params := &graphteams.ItemChannelsItemMessagesDeltaRequestBuilderGetQueryParameters{}
	if len(opts.Select) > 0 {
		params.Select = opts.Select
	}
	if len(opts.Expand) > 0 {
		params.Expand = opts.Expand
	}
	if opts.Filter != "" {
		params.Filter = &opts.Filter
	}
	if opts.PageSize > 0 {
		params.Top = int32Ptr(opts.PageSize)
	}
	resp, err := f.builder().GetAsDeltaGetResponse(ctx, &graphteams.ItemChannelsItemMessagesDeltaRequestBuilderGetRequestConfiguration{
		QueryParameters: params,
	})
	if err != nil {
		return nil, wrap(err, "channel messages delta")
	}
	return deltaPage(resp.GetValue(), resp.GetOdataNextLink(), resp.GetOdataDeltaLink(), toMessageChange), nil
}

func (f *messagesFeed) Resume(ctx context.Context, link string) (*sync.Page[model.ChatMessage], error) {
	resp, err := f.builder().WithUrl(link).GetAsDeltaGetResponse(ctx, nil)
	if err != nil {
		return nil, wrap(err, "channel messages delta")
	}
	return deltaPage(resp.GetValue(), resp.GetOdataNextLink(), resp.GetOdataDeltaLink(), toMessageChange), nil
}

func toMessageChange(m models.ChatMessageable) sync.Change[model.ChatMessage] {
	id := *m.GetId()
	if removed(m.GetAdditionalData()) {
		return sync.Remove[model.ChatMessage](id)
	}
	return sync.Upsert(id, toMessage(m))
}

func toMessage(m models.ChatMessageable) model.ChatMessage {
	msg := model.ChatMessage{
		ReplyToRemoteID: str(m.GetReplyToId()),
		MessageType:     enum(m.GetMessageType()),
		Subject:         str(m.GetSubject()),
		Importance:      enum(m.GetImportance()),
		WebURL:          str(m.GetWebUrl()),
		RemoteCreatedMs: model.MillisPtr(m.GetCreatedDateTime()),
		RemoteUpdatedMs: model.MillisPtr(m.GetLastModifiedDateTime()),
		RemoteDeletedMs: model.MillisPtr(m.GetDeletedDateTime()),
	}
	msg.IsDeleted = msg.RemoteDeletedMs != nil
	if b := m.GetBody(); b != nil {
		msg.Body = str(b.GetContent())
		msg.BodyType = enum(b.GetContentType())
	}
	if from := m.GetFrom(); from != nil && from.GetUser() != nil {
		msg.FromUserID = str(from.GetUser().GetId())
		msg.FromName = str(from.GetUser().GetDisplayName())
	}
	return msg
}
