package serializer

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func readResponse(t *testing.T, raw string) *http.Response {
	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(raw)), nil)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestResponseToBytesBodyIntact(t *testing.T) {
	res := readResponse(t, "HTTP/1.1 200 OK\r\nServer: Test\r\nContent-Length: 16\r\n\r\nThis is the body")

	_, err := responseToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if fmt.Sprintf("%s", body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestTimedResponseSerialization(t *testing.T) {
	req, _ := http.NewRequest("GET", "https://app.example/style.css", nil)
	res := readResponse(t, "HTTP/1.1 201 Created\r\nTest: -ing\r\nContent-Length: 4\r\n\r\nbody")
	res.Request = req
	reqTime := time.Now()
	resTime := reqTime.Add(time.Second)

	bts, err := StoredResponseToBytes(TimedResponse{
		Response:     res,
		ResponseTime: resTime,
		RequestTime:  reqTime,
	})
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}

	res2, err := BytesToStoredResponse(bts)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if res2.Response.StatusCode != 201 {
		t.Fatalf("Status is %d", res2.Response.StatusCode)
	}
	if res2.Response.Header.Get("Test") != "-ing" {
		t.Fatalf("Test header wrong %+v", res2.Response.Header)
	}
	if res2.Response.Header.Get(responseTimeHeaderName) != "" || res2.Response.Header.Get(requestTimeHeaderName) != "" {
		t.Fatalf("Timing headers leaked %+v", res2.Response.Header)
	}
	if res2.ResponseTime.Unix() != resTime.Unix() {
		t.Fatalf("Response time is %v", res2.ResponseTime)
	}
	if res2.Response.Request == nil || res2.Response.Request.URL.Path != "/style.css" {
		t.Fatalf("Stored request is %+v", res2.Response.Request)
	}
	body, _ := io.ReadAll(res2.Response.Body)
	if string(body) != "body" {
		t.Fatalf("Body: %s", body)
	}
	// the original is still readable after serialization
	body, _ = io.ReadAll(res.Body)
	if string(body) != "body" {
		t.Fatalf("Original body: %s", body)
	}
}

func TestEverySnapshotReadIsIndependent(t *testing.T) {
	res := readResponse(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	bts, err := StoredResponseToBytes(TimedResponse{Response: res})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		sRes, err := BytesToStoredResponse(bts)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(sRes.Response.Body)
		if string(body) != "hello" {
			t.Fatalf("Read %d body: %s", i, body)
		}
	}
}

func TestCloneGivesTwoReadableBodies(t *testing.T) {
	res := readResponse(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nX-Test: a\r\n\r\n5\r\nhello\r\n0\r\n\r\n")

	clone, err := Clone(res)
	if err != nil {
		t.Fatal(err)
	}
	clone.Header.Set("X-Test", "b")

	a, _ := io.ReadAll(res.Body)
	b, _ := io.ReadAll(clone.Body)
	if string(a) != "hello" || string(b) != "hello" {
		t.Fatalf("Bodies are %q and %q", a, b)
	}
	if res.Header.Get("X-Test") != "a" {
		t.Fatal("Clone shares headers with the original")
	}
	if res.ContentLength != 5 || clone.ContentLength != 5 {
		t.Fatalf("Content lengths are %d and %d", res.ContentLength, clone.ContentLength)
	}
}

func TestMalformedSnapshot(t *testing.T) {
	if _, err := BytesToStoredResponse([]byte("garbage")); err == nil {
		t.Fatal("Expected error")
	}
}
