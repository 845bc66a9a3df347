package outlook

import (
	"context"
	"fmt"
	"net/http"

	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/Martian-dev/inbox-sync/internal/mirror"
	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// ContactsFeed is the delta feed of the user's contacts in all folders.
func (c *Client) ContactsFeed() sync.Feed[model.Contact] {
	return &contactsFeed{c: c}
}

type contactsFeed struct {
	c *Client
}

func (f *contactsFeed) StartFresh(ctx context.Context, opts sync.QueryOptions) (*sync.Page[model.Contact], error) {
	params := &users.ItemContactsDeltaRequestBuilderGetQueryParameters{}
	if len(opts.Select) > 0 {
		params.Select = opts.Select
	}
	if opts.Filter != "" {
		params.Filter = &opts.Filter
	}
	if len(opts.OrderBy) > 0 {
		params.Orderby = opts.OrderBy
	}
	resp, err := f.c.graph.Users().ByUserId(f.c.userID).Contacts().Delta().GetAsDeltaGetResponse(ctx,
		&users.ItemContactsDeltaRequestBuilderGetRequestConfiguration{
			QueryParameters: params,
			Headers:         freshHeaders(opts.PageSize, false),
		})
	if err != nil {
		return nil, wrap(err, "contacts delta")
	}
	return deltaPage(resp.GetValue(), resp.GetOdataNextLink(), resp.GetOdataDeltaLink(), toContactChange), nil
}

func (f *contactsFeed) Resume(ctx context.Context, link string) (*sync.Page[model.Contact], error) {
	resp, err := f.c.graph.Users().ByUserId(f.c.userID).Contacts().Delta().WithUrl(link).GetAsDeltaGetResponse(ctx, nil)
	if err != nil {
		return nil, wrap(err, "contacts delta")
	}
	return deltaPage(resp.GetValue(), resp.GetOdataNextLink(), resp.GetOdataDeltaLink(), toContactChange), nil
}

func toContactChange(c models.Contactable) sync.Change[model.Contact] {
	id := *c.GetId()
	if removed(c.GetAdditionalData()) {
		return sync.Remove[model.Contact](id)
	}
	return sync.Upsert(id, toContact(c))
}

func toContact(c models.Contactable) model.Contact {
	emails := model.Strings{}
	for _, e := range c.GetEmailAddresses() {
		if addr := deref(e.GetAddress()); addr != "" {
			emails = append(emails, addr)
		}
	}

	ct := model.Contact{
		FolderRemoteID:  str(c.GetParentFolderId()),
		DisplayName:     str(c.GetDisplayName()),
		GivenName:       str(c.GetGivenName()),
		MiddleName:      str(c.GetMiddleName()),
		Surname:         str(c.GetSurname()),
		Nickname:        str(c.GetNickName()),
		Email:           model.PrimaryEmail(emails),
		Emails:          emails,
		Phone:           model.PrimaryPhone(deref(c.GetMobilePhone()), c.GetBusinessPhones(), c.GetHomePhones()),
		MobilePhone:     str(c.GetMobilePhone()),
		BusinessPhones:  nonNil(c.GetBusinessPhones()),
		HomePhones:      nonNil(c.GetHomePhones()),
		Company:         str(c.GetCompanyName()),
		JobTitle:        str(c.GetJobTitle()),
		Department:      str(c.GetDepartment()),
		BirthdayMs:      model.MillisPtr(c.GetBirthday()),
		Notes:           str(c.GetPersonalNotes()),
		Categories:      nonNil(c.GetCategories()),
		RemoteUpdatedMs: model.MillisPtr(c.GetLastModifiedDateTime()),
	}
	ct.SetAddress(model.PrimaryAddress(address(c.GetBusinessAddress()), address(c.GetHomeAddress()), address(c.GetOtherAddress())))
	return ct
}

func address(a models.PhysicalAddressable) model.Address {
	if a == nil {
		return model.Address{}
	}
	return model.Address{
		Street:     deref(a.GetStreet()),
		City:       deref(a.GetCity()),
		State:      deref(a.GetState()),
		PostalCode: deref(a.GetPostalCode()),
		Country:    deref(a.GetCountryOrRegion()),
	}
}

func nonNil(s []string) model.Strings {
	if s == nil {
		return model.Strings{}
	}
	return model.Strings(s)
}

// ContactFoldersFeed is the delta feed of the user's contact folders.
func (c *Client) ContactFoldersFeed() sync.Feed[model.ContactFolder] {
	return &foldersFeed{c: c}
}

type foldersFeed struct {
	c *Client
}

func (f *foldersFeed) StartFresh(ctx context.Context, opts sync.QueryOptions) (*sync.Page[model.ContactFolder], error) {
	params := &users.ItemContactFoldersDeltaRequestBuilderGetQueryParameters{}
	if len(opts.Select) > 0 {
		params.Select = opts.Select
	}
	resp, err := f.c.graph.Users().ByUserId(f.c.userID).ContactFolders().Delta().GetAsDeltaGetResponse(ctx,
		&users.ItemContactFoldersDeltaRequestBuilderGetRequestConfiguration{
			QueryParameters: params,
			Headers:         freshHeaders(opts.PageSize, false),
		})
	if err != nil {
		return nil, wrap(err, "contact folders delta")
	}
	return deltaPage(resp.GetValue(), resp.GetOdataNextLink(), resp.GetOdataDeltaLink(), toFolderChange), nil
}

func (f *foldersFeed) Resume(ctx context.Context, link string) (*sync.Page[model.ContactFolder], error) {
	resp, err := f.c.graph.Users().ByUserId(f.c.userID).ContactFolders().Delta().WithUrl(link).GetAsDeltaGetResponse(ctx, nil)
	if err != nil {
		return nil, wrap(err, "contact folders delta")
	}
	return deltaPage(resp.GetValue(), resp.GetOdataNextLink(), resp.GetOdataDeltaLink(), toFolderChange), nil
}

func toFolderChange(f models.ContactFolderable) sync.Change[model.ContactFolder] {
	id := *f.GetId()
	if removed(f.GetAdditionalData()) {
		return sync.Remove[model.ContactFolder](id)
	}
	return sync.Upsert(id, model.ContactFolder{
		DisplayName:    str(f.GetDisplayName()),
		ParentRemoteID: str(f.GetParentFolderId()),
	})
}

// ContactPhoto downloads a contact's picture. A contact without one yields
// mirror.ErrNoPhoto.
func (c *Client) ContactPhoto(ctx context.Context, remoteID string) (*model.Photo, error) {
	data, err := c.graph.Users().ByUserId(c.userID).Contacts().ByContactId(remoteID).Photo().Content().Get(ctx, nil)
	if err != nil {
		if status, _ := graphStatus(err); status == http.StatusNotFound {
			return nil, mirror.ErrNoPhoto
		}
		return nil, fmt.Errorf("contact photo %s: %w", remoteID, err)
	}
	if len(data) == 0 {
		return nil, mirror.ErrNoPhoto
	}
	return &model.Photo{ContentType: http.DetectContentType(data), Data: data}, nil
}

var _ mirror.PhotoSource = (*Client)(nil)
