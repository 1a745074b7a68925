package newsapi

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/hazz-dev/newsdesk/internal/config"
)

// Endpoint maps a widget kind and its parameters to an API path and query.
// The id parameter becomes part of the path for single-article kinds; all
// other parameters are passed through as query values.
func Endpoint(kind string, params map[string]string) (string, url.Values, error) {
	query := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var id string
	for _, k := range keys {
		if k == "id" {
			id = params[k]
			continue
		}
		if params[k] != "" {
			query.Set(k, params[k])
		}
	}

	switch kind {
	case config.KindArticles:
		if id != "" {
			query.Set("id", id)
		}
		return "/api/articles", query, nil
	case config.KindArticle:
		if id == "" {
			return "", nil, fmt.Errorf("%s widget requires an id parameter", kind)
		}
		return "/api/articles/" + id, query, nil
	case config.KindRelated:
		if id == "" {
			return "", nil, fmt.Errorf("%s widget requires an id parameter", kind)
		}
		return "/api/articles/" + id + "/related", query, nil
	case config.KindCategories:
		return "/api/categories", query, nil
	case config.KindBreaking:
		return "/api/articles/breaking", query, nil
	default:
		return "", nil, fmt.Errorf("kind %q has no API endpoint", kind)
	}
}
