package netcapture

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/browser/cdpconn"
)

func (c *Capture) handleEvent(ev any) {
	c.mu.Lock()
	capturing := c.capturing
	c.mu.Unlock()
	if !capturing {
		return
	}

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		c.onRequest(e)
	case *network.EventResponseReceived:
		c.onResponse(e)
	case *network.EventLoadingFinished:
		c.onFinished(e)
	case *network.EventLoadingFailed:
		c.onFailed(e)
	}
}

func (c *Capture) onRequest(e *network.EventRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	c.mu.Lock()
	c.seq++
	ex := &Exchange{
		ID:             string(e.RequestID),
		URL:            e.Request.URL + e.Request.URLFragment,
		Method:         e.Request.Method,
		Type:           string(e.Type),
		StartTime:      c.opts.Now().UnixMilli(),
		RequestHeaders: flattenHeaders(e.Request.Headers),
		RequestBody:    postData(e.Request),
		seq:            c.seq,
	}
	c.table[e.RequestID] = ex
	c.pruneLocked()
	c.mu.Unlock()
	c.notify()
}

// pruneLocked evicts the oldest exchanges until the retention cap holds.
func (c *Capture) pruneLocked() {
	excess := len(c.table) - c.opts.RetentionCap
	if excess <= 0 {
		return
	}
	all := make([]*Exchange, 0, len(c.table))
	for _, ex := range c.table {
		all = append(all, ex)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StartTime != all[j].StartTime {
			return all[i].StartTime < all[j].StartTime
		}
		return all[i].seq < all[j].seq
	})
	for _, ex := range all[:excess] {
		delete(c.table, network.RequestID(ex.ID))
	}
}

func (c *Capture) onResponse(e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	c.mu.Lock()
	ex, ok := c.table[e.RequestID]
	if !ok {
		c.mu.Unlock()
		return
	}
	ex.Status = e.Response.Status
	ex.StatusText = e.Response.StatusText
	ex.MimeType = e.Response.MimeType
	ex.ResponseHeaders = flattenHeaders(e.Response.Headers)
	if ex.Type == "" {
		ex.Type = string(e.Type)
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Capture) onFinished(e *network.EventLoadingFinished) {
	c.mu.Lock()
	ex, ok := c.table[e.RequestID]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.finishLocked(ex)
	ex.ResponseSize = int64(e.EncodedDataLength)
	mime := ex.MimeType
	c.mu.Unlock()

	if c.session.Attached() {
		c.fetches.Add(1)
		go c.fetchBody(e.RequestID, mime)
	}
	c.notify()
}

func (c *Capture) onFailed(e *network.EventLoadingFailed) {
	c.mu.Lock()
	ex, ok := c.table[e.RequestID]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.finishLocked(ex)
	ex.Status = 0
	ex.Error = e.ErrorText
	if ex.Error == "" && e.Canceled {
		ex.Error = "canceled"
	}
	c.mu.Unlock()
	c.notify()
}

// finishLocked sets the end time the first time an exchange completes.
func (c *Capture) finishLocked(ex *Exchange) {
	if ex.EndTime != nil {
		return
	}
	end := c.opts.Now().UnixMilli()
	duration := end - ex.StartTime
	ex.EndTime = &end
	ex.Duration = &duration
}

func (c *Capture) fetchBody(id network.RequestID, mime string) {
	defer c.fetches.Done()

	ctx, cancel := context.WithTimeout(c.lifetime, c.opts.BodyTimeout)
	defer cancel()

	var res network.GetResponseBodyReturns
	err := cdp.Execute(cdpconn.WithConn(ctx, c.session), network.CommandGetResponseBody, network.GetResponseBody(id), &res)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Debug("Failed to fetch response body.", zap.String("request_id", string(id)), zap.Error(err))
		}
		return
	}

	body := c.renderBody(res.Body, res.Base64encoded, mime)

	c.mu.Lock()
	ex, ok := c.table[id]
	if ok {
		ex.ResponseBody = &body
	}
	c.mu.Unlock()
	if ok {
		c.notify()
	}
}

// renderBody replaces binary payloads with a marker and truncates text to
// the body cap. The cut never splits a UTF-8 sequence, so a truncated body
// is at most BodyCap bytes and exactly BodyCap when the cap falls on a rune
// boundary.
func (c *Capture) renderBody(body string, base64Encoded bool, mime string) string {
	if base64Encoded {
		return fmt.Sprintf("[Binary data: %s]", mime)
	}
	if len(body) <= c.opts.BodyCap {
		return body
	}
	cut := c.opts.BodyCap
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

func flattenHeaders(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func postData(req *network.Request) *string {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return nil
	}
	var b strings.Builder
	for _, entry := range req.PostDataEntries {
		// Entries are base64 on the wire; older browsers sent plain text.
		if raw, err := base64.StdEncoding.DecodeString(entry.Bytes); err == nil {
			b.Write(raw)
			continue
		}
		b.WriteString(entry.Bytes)
	}
	s := b.String()
	return &s
}
