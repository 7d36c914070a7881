package avatar

import (
	"net/url"
	"strings"
)

type queryParam struct {
	key   string
	value string
}

// Query 保留插入顺序的查询参数集合；url.Values 会按键排序，因此不用它。
type Query struct {
	params []queryParam
}

// Add 追加一个参数。
func (q *Query) Add(key, value string) {
	q.params = append(q.params, queryParam{key: key, value: value})
}

// Get 返回第一个同名参数。
func (q Query) Get(key string) (string, bool) {
	for _, p := range q.params {
		if p.key == key {
			return p.value, true
		}
	}
	return "", false
}

// Len 返回参数个数。
func (q Query) Len() int {
	return len(q.params)
}

// Encode 输出 ?k=v&k=v 形式；空集合返回空字符串。
func (q Query) Encode() string {
	if len(q.params) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range q.params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}
