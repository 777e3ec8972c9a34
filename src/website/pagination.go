package website

import (
	"strconv"

	"github.com/opencompanion/companion/src/utils"
)

type pageInfo struct {
	Page       int
	TotalPages int
	Offset     int
	Limit      int
}

// Reads the ?page= value of a listing. A missing value means the first page. An
// empty listing still has one (empty) page, but anything past the last page is
// rejected.
func getPageInfo(pageParam string, totalItems, perPage int) (pageInfo, bool) {
	info := pageInfo{
		Page:       1,
		TotalPages: utils.PageCount(totalItems, perPage),
		Limit:      perPage,
	}

	if pageParam != "" {
		page, err := strconv.Atoi(pageParam)
		if err != nil {
			return pageInfo{}, false
		}
		info.Page = page
	}
	if info.Page < 1 || info.Page > info.TotalPages {
		return pageInfo{}, false
	}

	info.Offset = (info.Page - 1) * perPage
	return info, true
}
