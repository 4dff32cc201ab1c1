package events

// Body shapes published under each routing key. The router classifies by
// which of these fields are present, so publishers must not add fields that
// belong to a higher-priority shape (notably userId).

type FriendRequested struct {
	RequesterID   string `json:"requesterId"`
	RequesteeID   string `json:"requesteeId"`
	RequesterName string `json:"requesterName,omitempty"`
}

type UserMentioned struct {
	MentionedUserID string `json:"mentionedUserId"`
	MentionerID     string `json:"mentionerId"`
	MentionerName   string `json:"mentionerName,omitempty"`
	PostID          string `json:"postId,omitempty"`
}

type PostLiked struct {
	LikedUserID string `json:"likedUserId"`
	LikerID     string `json:"likerId"`
	LikerName   string `json:"likerName,omitempty"`
	PostID      string `json:"postId"`
}

type GroupInvited struct {
	InvitedUserID string `json:"invitedUserId"`
	InviterID     string `json:"inviterId"`
	GroupID       string `json:"groupId"`
	GroupName     string `json:"groupName,omitempty"`
}

type ChatCreated struct {
	ChatID       string   `json:"chatId"`
	CreatorID    string   `json:"creatorId"`
	Participants []string `json:"participants"`
	Name         string   `json:"name,omitempty"`
}

type MessageCreated struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
}

// Generic is published under notification.<kind>.
type Generic struct {
	UserID  string         `json:"userId"`
	Type    string         `json:"type,omitempty"`
	Title   string         `json:"title,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}
