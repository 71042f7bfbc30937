package model

import "time"

type Comment struct {
	ID          string    `json:"id"`
	PlateItemID string    `json:"plateItemId"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Metric is a numeric measurement attached to a card, e.g. story points.
type Metric struct {
	ID          string    `json:"id"`
	PlateItemID string    `json:"plateItemId"`
	Name        string    `json:"name"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MetricTotal is the sum of every metric sharing a name within a scope.
type MetricTotal struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
	Total float64 `json:"total"`
}

type HeaderSummary struct {
	HeaderID  string        `json:"headerId"`
	Name      string        `json:"name"`
	CardCount int           `json:"cardCount"`
	Totals    []MetricTotal `json:"totals"`
}

type PlateSummary struct {
	PlateID   string          `json:"plateId"`
	CardCount int             `json:"cardCount"`
	Archived  int             `json:"archived"`
	Headers   []HeaderSummary `json:"headers"`
	Totals    []MetricTotal   `json:"totals"`
}

const (
	NotificationComment    = "comment"
	NotificationAssignment = "assignment"
	NotificationMove       = "move"
	NotificationInvite     = "invite"
)

type Notification struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	PlateID     string    `json:"plateId,omitempty"`
	PlateItemID string    `json:"plateItemId,omitempty"`
	ActorID     string    `json:"actorId,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Activity struct {
	ID          string    `json:"id" bson:"_id"`
	UserID      string    `json:"userId" bson:"user_id"`
	UserName    string    `json:"userName" bson:"user_name"`
	TeamID      string    `json:"teamId" bson:"team_id"`
	PlateID     string    `json:"plateId,omitempty" bson:"plate_id,omitempty"`
	PlateItemID string    `json:"plateItemId,omitempty" bson:"plate_item_id,omitempty"`
	Action      string    `json:"action" bson:"action"`
	Detail      string    `json:"detail,omitempty" bson:"detail,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"created_at"`
}

type TeamMember struct {
	TeamID      string    `json:"teamId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
}

const (
	AppSlack = "slack"
	AppGmail = "gmail"
)

// ConnectedApp records a third-party account linked by a user. The access
// token stays server side.
type ConnectedApp struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	App             string    `json:"app"`
	ExternalAccount string    `json:"externalAccount"`
	AccessToken     string    `json:"-"`
	ConnectedAt     time.Time `json:"connectedAt"`
}

const (
	AttachmentUpload = "upload"
	AttachmentSlack  = "slack"
	AttachmentGmail  = "gmail"
)

type Attachment struct {
	ID          string    `json:"id"`
	PlateItemID string    `json:"plateItemId"`
	Source      string    `json:"source"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ObjectKey   string    `json:"objectKey,omitempty"`
	ExternalURL string    `json:"externalUrl,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserProfile is the public view of an account.
type UserProfile struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"displayName"`
	Email           string    `json:"email"`
	TeamID          string    `json:"teamId"`
	Role            string    `json:"role"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
}

// SearchResult is one hit returned by /api/search.
type SearchResult struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	PlateID     string `json:"plateId,omitempty"`
	PlateItemID string `json:"plateItemId,omitempty"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
}
