package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// decompressBody 根据Content-Encoding解压响应体
// 支持 gzip, deflate, br 三种压缩格式
func decompressBody(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip", "x-gzip":
		// 上游可能已经解压过,只处理带gzip魔数的内容
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()
		return readAll(reader, "gzip")

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		return readAll(reader, "deflate")

	case "br":
		return readAll(brotli.NewReader(bytes.NewReader(body)), "brotli")

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}

func readAll(r io.Reader, name string) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s读取失败: %w", name, err)
	}
	return out, nil
}

// decompressTransport 在colly处理响应前完成解压
// colly只认识gzip,站点返回br时需要在传输层处理
type decompressTransport struct {
	base http.RoundTripper
}

// RoundTrip 实现 http.RoundTripper
func (t *decompressTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.Body == nil {
		return resp, err
	}
	encoding := resp.Header.Get("Content-Encoding")
	if encoding == "" || resp.Uncompressed {
		return resp, nil
	}

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	body, err := decompressBody(encoding, raw)
	if err != nil {
		utils.Warnf("解压响应失败 [%s] (编码=%s): %v", req.URL, encoding, err)
		body = raw
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.Uncompressed = true
	return resp, nil
}

// toUTF8 将页面转换为UTF-8
// Content-Type中已声明charset时colly已完成转换,这里只处理靠<meta>声明编码的页面
func toUTF8(contentType string, body []byte) []byte {
	if strings.Contains(strings.ToLower(contentType), "charset") {
		return body
	}
	if utf8.Valid(body) {
		return body
	}
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	out, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		utils.Debugf("字符集转换失败 (%s): %v", name, err)
		return body
	}
	return out
}
