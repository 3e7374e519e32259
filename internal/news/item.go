package news

import (
	"strings"
	"time"

	"newsdesk/internal/domain"
)

// ReceivedLayout is the naive UTC timestamp format the backend uses for
// received_date.
const ReceivedLayout = "2006-01-02T15:04:05"

var (
	positiveWords = []string{"beat", "beats", "surge", "jumps", "record", "wins", "upgrade", "approval", "profit", "growth", "raises"}
	negativeWords = []string{"miss", "misses", "plunge", "falls", "loss", "downgrade", "probe", "lawsuit", "cuts", "recall", "default"}
)

// Score gives a crude sentiment label and impact score (0..10) from
// keyword hits in the headline.
func Score(headline string) (sentiment string, impact float64) {
	words := strings.Fields(strings.ToLower(headline))
	pos, neg := 0, 0
	for _, w := range words {
		w = strings.Trim(w, ".,:;!?'\"()")
		for _, p := range positiveWords {
			if w == p {
				pos++
			}
		}
		for _, n := range negativeWords {
			if w == n {
				neg++
			}
		}
	}
	switch {
	case pos > neg:
		sentiment = "POSITIVE"
	case neg > pos:
		sentiment = "NEGATIVE"
	default:
		sentiment = "NEUTRAL"
	}
	impact = float64(pos+neg) * 3
	if impact > 10 {
		impact = 10
	}
	return sentiment, impact
}

// ToItem converts an article into a news item with the given id. created is
// the backend ingestion time.
func ToItem(a Article, id int64, created time.Time) domain.NewsItem {
	sentiment, impact := Score(a.Headline)
	item := domain.NewsItem{
		ID:           id,
		ReceivedDate: a.Time.UTC().Format(ReceivedLayout),
		Headline:     a.Headline,
		Summary:      a.Content,
		Sentiment:    sentiment,
		URL:          a.URL,
		ImpactScore:  impact,
		CreatedAt:    created.UTC().Format(ReceivedLayout),
		SourceCount:  1,
		SourceHandle: a.Source,
	}
	if len(a.Symbols) > 0 {
		item.Ticker = strings.ToUpper(a.Symbols[0])
		item.Exchange = "NSE"
		item.CountryCode = "IN"
	}
	return item
}
