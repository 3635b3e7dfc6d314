package sink

import (
	"fmt"

	"github.com/Sternrassler/names-scraper/pkg/model"
)

func testRecords(cat model.Category, page, n int) []model.Record {
	records := make([]model.Record, n)
	for i := range records {
		records[i] = model.Record{
			DisplayName: fmt.Sprintf("Name%d-%d", page, i),
			NativeName:  "اسم",
			Meaning:     fmt.Sprintf("meaning %d-%d", page, i),
			URL:         fmt.Sprintf("https://example.test/name/%d-%d", page, i),
			Category:    cat,
		}
	}
	return records
}
