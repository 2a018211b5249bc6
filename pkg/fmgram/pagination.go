package fmgram

import "context"

// PageProducer renders one 1-indexed page of a paginated result.
type PageProducer func(ctx context.Context, page int) (string, error)

// PaginationRequest starts one paginated reply.
type PaginationRequest struct {
	Target           OutboundTarget
	ReplyToMessageID string
	// OwnerID is the only actor allowed to navigate.
	OwnerID    string
	TotalPages int
	// FirstPage is the page sent initially, defaulting to 1.
	FirstPage int
	Produce   PageProducer
}

// Paginator sends the first page of a multi-page reply and arms navigation
// controls when more than one page exists.
type Paginator interface {
	Paginate(ctx context.Context, request PaginationRequest) (*OutboundMessage, error)
}
