package serializer

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	responseTimeHeaderName = "Offline-Response-Time"
	requestTimeHeaderName  = "Offline-Request-Time"
)

var errMalformedSnapshot = errors.New("malformed response snapshot")

// TimedResponse is a response snapshot as kept in a cache.
type TimedResponse struct {
	Response *http.Response
	// The value of the clock at the time of the request that resulted in the stored response.
	RequestTime time.Time
	// The value of the clock at the time the response was received.
	ResponseTime time.Time
}

// BytesToStoredResponse materializes a stored snapshot.
// Every call returns an independent response with its own body reader.
func BytesToStoredResponse(b []byte) (TimedResponse, error) {
	sRes := TimedResponse{}
	res, err := bytesToResponse(b)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	resTimeInt, err := strconv.ParseInt(res.Header.Get(responseTimeHeaderName), 10, 64)
	if err != nil {
		return sRes, err
	}
	reqTimeInt, err := strconv.ParseInt(res.Header.Get(requestTimeHeaderName), 10, 64)
	if err != nil {
		return sRes, err
	}
	sRes.ResponseTime = time.Unix(resTimeInt, 0)
	sRes.RequestTime = time.Unix(reqTimeInt, 0)
	// delete extra headers
	sRes.Response.Header.Del(responseTimeHeaderName)
	sRes.Response.Header.Del(requestTimeHeaderName)
	return sRes, nil
}

var delim = []byte("\r\n\r\n----\r\n\r\n")

// StoredResponseToBytes serializes the snapshot in HTTP/1.1 wire format,
// preceded by the request that produced it.
// The response body stays readable afterwards.
func StoredResponseToBytes(sRes TimedResponse) ([]byte, error) {
	res := sRes.Response
	req := sRes.Response.Request
	buf := &bytes.Buffer{}

	if req != nil {
		// a stored request never carries a body
		reqCopy := req.Clone(req.Context())
		reqCopy.Body = nil
		reqCopy.ContentLength = 0
		if err := reqCopy.Write(buf); err != nil {
			log.Warn().Err(err).Msg("Could not write request to bytes")
		}
	} else {
		log.Warn().Msg("Request not set")
	}
	buf.Write(delim)

	res.Header.Set(responseTimeHeaderName, strconv.FormatInt(sRes.ResponseTime.Unix(), 10))
	res.Header.Set(requestTimeHeaderName, strconv.FormatInt(sRes.RequestTime.Unix(), 10))
	bts, err := responseToBytes(res)
	// remove the extra headers just in case
	res.Header.Del(responseTimeHeaderName)
	res.Header.Del(requestTimeHeaderName)
	if err != nil {
		return nil, err
	}

	buf.Write(bts)

	return buf.Bytes(), nil
}

// Clone duplicates a response for parallel consumption.
// The single-use body of res is buffered; afterwards res and the returned copy
// each read the full body from their own reader.
func Clone(res *http.Response) (*http.Response, error) {
	var body []byte
	if res.Body != nil && res.Body != http.NoBody {
		b, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, err
		}
		body = b
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil

	clone := new(http.Response)
	*clone = *res
	clone.Header = res.Header.Clone()
	clone.Trailer = res.Trailer.Clone()
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return clone, nil
}

// bytesToResponse converts a byte slice to a http.Response.
func bytesToResponse(b []byte) (*http.Response, error) {
	reqBytes, resBytes, found := bytes.Cut(b, delim)
	if !found {
		return nil, errMalformedSnapshot
	}
	var req *http.Request
	if len(reqBytes) > 0 {
		r, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(reqBytes)))
		if err != nil {
			log.Warn().Err(err).Bytes("bytes", reqBytes).Msg("Could not read request from stored response")
		} else {
			req = r
		}
	}
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(resBytes)), req)
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	// return buffer bytes
	return bts, nil
}
