package relay

import (
	"bytes"
	"fmt"
	"strconv"
)

// FlexID is a numeric id the relay encodes either as a JSON number or a
// numeric string.
type FlexID int64

// UnmarshalJSON accepts 7, "7" and null.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		s := string(data[1 : len(data)-1])
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("id %q is not numeric", s)
		}
		*f = FlexID(n)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id %s is not numeric", data)
	}
	*f = FlexID(n)
	return nil
}

// Int64 returns the id as a plain int64.
func (f FlexID) Int64() int64 { return int64(f) }

// ContactRow is one entry of the contacts-for-user response.
type ContactRow struct {
	OtherUserID FlexID `json:"otherUserId"`
	OtherEmail  string `json:"otherEmail"`
	GroupID     *int64 `json:"groupId"`
	LastMessage string `json:"lastMessage"`
}

// UserRow is one entry of the search-users response.
type UserRow struct {
	UsersID FlexID `json:"usersId"`
	Email   string `json:"email"`
}

// MessageRow is one entry of the messages-for-group response,
// ordered oldest to newest by the relay.
type MessageRow struct {
	SenderID      FlexID `json:"senderId"`
	MessageType   string `json:"messageType"`
	Message       string `json:"message"`
	FileURL       string `json:"fileUrl"`
	CorrelationID string `json:"correlationId"`
}
