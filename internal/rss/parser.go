package rss

import (
	"bytes"
	"errors"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

var (
	errEmptyPayload = errors.New("载荷为空")

	titleStripper = bluemonday.StrictPolicy()
	spaceRe       = regexp.MustCompile(`\s+`)

	// 只识别常见的行内排版标签，<template>、<slot> 之类按正文保留。
	formatTagRe = regexp.MustCompile(`(?i)</?(?:a|b|i|u|s|em|strong|span|br|font|small|sub|sup|mark)(?:\s[^>]*)?/?>`)
)

// Parse 将原始载荷解析为 Feed。
// 除 RSS 2.0 外也接受 Atom 和 JSON Feed。条目缺少标题或链接时以空字符串代替，
// 只有整个文档无法解码时才返回 ParseError；没有条目的合法文档不算错误。
func Parse(payload []byte) (*Feed, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, &ParseError{Err: errEmptyPayload}
	}

	// gofeed.Parser 内部持有解析状态，每次调用单独创建。
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	feed := &Feed{
		PublisherTitle: cleanTitle(parsed.Title),
		Items:          make([]FeedItem, 0, len(parsed.Items)),
	}
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		feed.Items = append(feed.Items, FeedItem{
			Title: cleanTitle(it.Title),
			Link:  strings.TrimSpace(it.Link),
		})
	}
	return feed, nil
}

// cleanTitle 合并连续空白。gofeed 已解码实体，标题里的尖括号通常是正文，
// 只有出现行内排版标签时才去掉标签。
func cleanTitle(s string) string {
	if s == "" {
		return ""
	}
	if formatTagRe.MatchString(s) {
		s = html.UnescapeString(titleStripper.Sanitize(s))
	}
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
