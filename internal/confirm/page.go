package confirm

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// resultBox is one bordered search result on the media page.
type resultBox struct {
	// Index is the position among all result boxes, used to address
	// the live element when clicking.
	Index int
	Title string
	// SingleFile marks releases the UI tags as a single episode or
	// extras-only pack. Those never satisfy a season request.
	SingleFile bool
	HasInstant bool
	HasDL      bool
}

// cachedEntry is one fully cached release the page already shows,
// paired with the heading of its result card.
type cachedEntry struct {
	Title      string
	ButtonText string
}

func classContains(s *goquery.Selection, sub string) bool {
	cls, _ := s.Attr("class")
	return strings.Contains(cls, sub)
}

// parseResultBoxes extracts the result cards from a page snapshot.
func parseResultBoxes(html string) ([]resultBox, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var boxes []resultBox
	doc.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return classContains(s, "border-black")
	}).Each(func(i int, s *goquery.Selection) {
		box := resultBox{
			Index: i,
			Title: strings.TrimSpace(s.Find("h2").First().Text()),
		}

		s.Find("span").EachWithBreak(func(_ int, sp *goquery.Selection) bool {
			text := sp.Text()
			if strings.Contains(text, "Single") || strings.Contains(text, "With extras") {
				box.SingleFile = true
				return false
			}
			return true
		})

		s.Find("button").Each(func(_ int, b *goquery.Selection) {
			if classContains(b, "bg-green-900/30") {
				box.HasInstant = true
			}
			if strings.Contains(b.Text(), "DL with RD") {
				box.HasDL = true
			}
		})

		boxes = append(boxes, box)
	})

	return boxes, nil
}

// parseCachedEntries extracts releases the page already reports as
// fully cached. The UI renders those as red action buttons inside a
// bordered card whose heading carries the release title. Report
// buttons share the styling and are excluded.
func parseCachedEntries(html string) ([]cachedEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var entries []cachedEntry
	doc.Find("button").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return classContains(s, "bg-red-900/30")
	}).Each(func(_ int, b *goquery.Selection) {
		text := strings.TrimSpace(b.Text())
		if strings.Contains(text, "Report") {
			return
		}

		card := b.ParentsFiltered("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return classContains(s, "border-2")
		}).First()
		heading := strings.TrimSpace(card.Find("h2").First().Text())
		if heading == "" {
			return
		}

		entries = append(entries, cachedEntry{Title: heading, ButtonText: text})
	})

	return entries, nil
}
