package runner

import (
	"strings"

	"github.com/ChuLiYu/zerog-bots/internal/config"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// TaskKind 任務分派鍵
type TaskKind int

const (
	KindUnknown TaskKind = iota
	KindRegistration
	KindFollow
	KindDailyCheckIn
	KindEngagement
)

func (k TaskKind) String() string {
	switch k {
	case KindRegistration:
		return "registration"
	case KindFollow:
		return "follow"
	case KindDailyCheckIn:
		return "daily_check_in"
	case KindEngagement:
		return "engagement"
	default:
		return "unknown"
	}
}

// RegistrationTitle 需要推薦碼的註冊任務
const RegistrationTitle = "Campaign Registration"

// skipTitles 由推薦流程另外處理的任務
var skipTitles = map[string]struct{}{
	"Use a friend's referral code": {},
	"Refer a friend":               {},
}

// engagementVerbs 標題開頭的動詞，後面接 ":" 或空白（例如 "Like: Support One Gravity"、"RT: ..."）
var engagementVerbs = []string{"like", "rt", "retweet", "repost", "comment"}

// Excluded 標題在排除清單中
func Excluded(title string) bool {
	_, ok := skipTitles[strings.TrimSpace(title)]
	return ok
}

// KindOf 依標題解析任務種類
func KindOf(title string) TaskKind {
	t := strings.ToLower(strings.TrimSpace(title))
	switch {
	case t == strings.ToLower(RegistrationTitle):
		return KindRegistration
	case strings.HasPrefix(t, "follow "):
		return KindFollow
	case t == "daily check-in" || t == "daily check in":
		return KindDailyCheckIn
	}
	for _, v := range engagementVerbs {
		if hasVerb(t, v) {
			return KindEngagement
		}
	}
	return KindUnknown
}

func hasVerb(title, verb string) bool {
	rest, ok := strings.CutPrefix(title, verb)
	return ok && (strings.HasPrefix(rest, ":") || strings.HasPrefix(rest, " "))
}

// ActivityID 固定的 activity id 優先，否則使用後端回傳的任務 id
func ActivityID(c config.Campaign, kind TaskKind, task types.Task) string {
	if kind == KindRegistration && c.RegistrationActivityID != "" {
		return c.RegistrationActivityID
	}
	if id, ok := c.Activities[strings.TrimSpace(task.Title)]; ok && id != "" {
		return id
	}
	return task.ID
}
