package voker

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"time"
)

// maxBodySize is the 6 MiB payload cap the control plane never exceeds.
const maxBodySize = 6 * 1024 * 1024

// maxHeadLineSize bounds how many bytes the decoder will buffer while
// looking for a CRLF before declaring the head malformed. Applies to the
// status line and to each header line.
const maxHeadLineSize = 256

// ErrorRecord is the wire shape of a Lambda error report and of the
// ErrorResponse body returned by the control plane on 400/403.
type ErrorRecord struct {
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
}

// InvocationMetadata carries everything a /next 200 response conveys
// about a single invocation. Immutable once constructed.
type InvocationMetadata struct {
	RequestID            RequestId
	DeadlineMsSinceEpoch int64
	InvokedFunctionArn   string
	TraceID              string
	ClientContext        string
	CognitoIdentity      string
}

// responseKind discriminates the decoded ControlPlaneResponse variants.
type responseKind int

const (
	respNext responseKind = iota
	respAccepted
	respError
)

// controlPlaneResponse is the decoder's output: exactly one of the
// spec's ControlPlaneResponse variants (Next, Accepted, Error).
type controlPlaneResponse struct {
	kind        responseKind
	metadata    InvocationMetadata
	body        []byte
	errorRecord ErrorRecord

	// closeAfter reports whether the connection must be closed once
	// this response has been delivered: set by a non-1.1 status line
	// or a "Connection: close" response header, per spec.md §4.3.
	closeAfter bool
}

// errNeedMoreData signals that decode cannot finish a response with the
// bytes fed so far and the caller should feed more bytes and retry. Any
// complete lines already decoded stay consumed in the decoder's state. It
// is not a protocol error.
type errNeedMoreData struct{}

func (errNeedMoreData) Error() string { return "voker: need more data" }

var errNeedMore error = errNeedMoreData{}

func isErrNeedMoreData(err error) bool {
	_, ok := err.(errNeedMoreData)
	return ok
}

type decodeState int

const (
	stateWaitingForStatusLine decodeState = iota
	stateParsingHeaders
	stateWaitingForBody
	stateIdle
)

// partialHead accumulates header fields as they're decoded, mirroring
// spec.md's PartialHead.
type partialHead struct {
	statusCode int

	contentLength    uint64
	hasContentLength bool

	requestID    RequestId
	hasRequestID bool

	deadlineMs   uint64
	hasDeadline  bool

	functionARN    string
	hasFunctionARN bool

	traceID    string
	hasTraceID bool

	clientContext    string
	hasClientContext bool

	cognitoIdentity    string
	hasCognitoIdentity bool

	// nonOneOne is set when the status line advertises an HTTP version
	// other than 1.1; connectionClose is set by an inbound
	// "Connection: close" header. Either forces closeAfter on the
	// decoded response.
	nonOneOne       bool
	connectionClose bool
}

// Decoder is a stepwise, resumable decoder for control-plane HTTP/1.1
// responses. It never allocates a header map; it extracts only the
// Lambda-specific fields it needs. A single Decoder is reused across
// every response on a connection (spec.md §5: "the body buffer ... is
// reused across reports on the same connection" — here the accumulator
// itself is the reused buffer).
type Decoder struct {
	state decodeState
	head  partialHead
	acc   []byte
}

// NewDecoder returns a Decoder ready to parse a status line.
func NewDecoder() *Decoder {
	return &Decoder{state: stateWaitingForStatusLine}
}

// Feed appends newly-read bytes to the decoder's accumulator.
func (d *Decoder) Feed(data []byte) {
	d.acc = append(d.acc, data...)
}

// Decode attempts to produce one complete controlPlaneResponse from the
// bytes fed so far. It returns errNeedMoreData (progress so far is kept,
// safe to retry after Feed), a fatal protocol/metadata error, or a response. The
// decoder resumes correctly regardless of how Feed splits the input
// stream — every intermediate split of a well-formed response yields the
// same eventual result.
func (d *Decoder) Decode() (*controlPlaneResponse, error) {
	for {
		switch d.state {
		case stateIdle:
			d.head = partialHead{}
			d.state = stateWaitingForStatusLine

		case stateWaitingForStatusLine:
			resp, err, done := d.decodeStatusLine()
			if !done {
				return resp, err
			}

		case stateParsingHeaders:
			resp, err, done := d.decodeHeaderLine()
			if !done {
				return resp, err
			}

		case stateWaitingForBody:
			resp, err, _ := d.decodeBody()
			return resp, err
		}
	}
}

// decodeStatusLine consumes "HTTP/1.X NNN <reason>\r\n". Any minor
// version is accepted (a non-1.1 response is not a protocol error, but
// per spec.md §4.3 it does force the connection closed after this
// response is delivered). done=false means "return (resp, err) to the
// caller now"; done=true means "state advanced, keep looping".
func (d *Decoder) decodeStatusLine() (resp *controlPlaneResponse, err error, done bool) {
	const prefix = "HTTP/1."

	if len(d.acc) < len(prefix)+1+1+3 {
		if len(d.acc) > maxHeadLineSize {
			return nil, ErrInvalidStatusLine, false
		}
		return nil, errNeedMore, false
	}

	if !bytes.HasPrefix(d.acc, []byte(prefix)) {
		return nil, ErrInvalidStatusLine, false
	}

	versionDigit := d.acc[len(prefix)]
	if versionDigit < '0' || versionDigit > '9' {
		return nil, ErrInvalidStatusLine, false
	}
	if d.acc[len(prefix)+1] != ' ' {
		return nil, ErrInvalidStatusLine, false
	}

	head := len(prefix) + 2
	digits := d.acc[head : head+3]
	for _, b := range digits {
		if b < '0' || b > '9' {
			return nil, ErrInvalidStatusLine, false
		}
	}
	code := int(digits[0]-'0')*100 + int(digits[1]-'0')*10 + int(digits[2]-'0')

	rest := d.acc[head+3:]
	idx := bytes.Index(rest, crlf)
	if idx == -1 {
		if len(d.acc) > maxHeadLineSize {
			return nil, ErrInvalidStatusLine, false
		}
		return nil, errNeedMore, false
	}

	consumed := head + 3 + idx + 2
	d.acc = d.acc[consumed:]
	d.head = partialHead{statusCode: code, nonOneOne: versionDigit != '1'}
	d.state = stateParsingHeaders
	return nil, nil, true
}

var crlf = []byte("\r\n")

// decodeHeaderLine consumes one "Name: value\r\n" line, or the blank
// line that ends the header section.
func (d *Decoder) decodeHeaderLine() (resp *controlPlaneResponse, err error, done bool) {
	idx := bytes.Index(d.acc, crlf)
	if idx == -1 {
		if len(d.acc) > maxHeadLineSize {
			return nil, ErrHeadTooLong, false
		}
		return nil, errNeedMore, false
	}

	if idx == 0 {
		// Blank line: end of header section.
		d.acc = d.acc[2:]
		if d.head.hasContentLength {
			d.state = stateWaitingForBody
			return nil, nil, true
		}
		response, ferr := d.finalize(nil)
		return response, ferr, false
	}

	line := d.acc[:idx]
	d.acc = d.acc[idx+2:]

	colon := bytes.IndexByte(line, ':')
	if colon == -1 {
		return nil, ErrHeaderInvalidCharacter, false
	}

	name := line[:colon]
	for _, b := range name {
		if !isTokenChar(b) {
			return nil, ErrHeaderInvalidCharacter, false
		}
	}

	value := trimOWS(line[colon+1:])

	if ferr := d.applyHeader(name, value); ferr != nil {
		return nil, ferr, false
	}

	return nil, nil, true
}

// decodeBody consumes exactly contentLength bytes and finalizes.
func (d *Decoder) decodeBody() (resp *controlPlaneResponse, err error, done bool) {
	n := d.head.contentLength
	if uint64(len(d.acc)) < n {
		return nil, errNeedMore, false
	}

	body := make([]byte, n)
	copy(body, d.acc[:n])
	d.acc = d.acc[n:]

	response, ferr := d.finalize(body)
	return response, ferr, false
}

// isTokenChar reports whether b is a valid RFC 7230 "tchar".
func isTokenChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

// headerNameIs compares a header name or value against a lowercase
// canonical form case-insensitively via the &0xDF bit trick (uppercases
// ASCII letters; leaves non-letters, including '-', matched
// consistently on both sides since the same mask is applied to both
// operands).
func headerNameIs(name []byte, canonicalLower string) bool {
	if len(name) != len(canonicalLower) {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i]&0xDF != canonicalLower[i]&0xDF {
			return false
		}
	}
	return true
}

// applyHeader dispatches on colon offset (header-name length), the fast
// branch spec.md §4.2 calls for.
func (d *Decoder) applyHeader(name, value []byte) error {
	switch len(name) {
	case 4: // date
		return nil
	case 10: // connection
		if headerNameIs(name, "connection") && headerNameIs(value, "close") {
			d.head.connectionClose = true
		}
		return nil
	case 12: // content-type
		return nil
	case 14: // content-length
		if !headerNameIs(name, "content-length") {
			return nil
		}
		n, err := parseCappedUint64(value)
		if err != nil {
			return ErrInvalidContentLength
		}
		if n > maxBodySize {
			return ErrInvalidContentLength
		}
		d.head.contentLength = n
		d.head.hasContentLength = true
		return nil
	case 17: // transfer-encoding
		if headerNameIs(name, "transfer-encoding") {
			return ErrChunkedNotSupported
		}
		return nil
	case 23: // lambda-runtime-trace-id
		if headerNameIs(name, "lambda-runtime-trace-id") {
			d.head.traceID = string(value)
			d.head.hasTraceID = true
		}
		return nil
	case 26: // lambda-runtime-deadline-ms
		if headerNameIs(name, "lambda-runtime-deadline-ms") {
			n, err := parseCappedUint64(value)
			if err != nil {
				return ErrMissingDeadline
			}
			d.head.deadlineMs = n
			d.head.hasDeadline = true
		}
		return nil
	case 29: // lambda-runtime-aws-request-id OR lambda-runtime-client-context
		if headerNameIs(name, "lambda-runtime-aws-request-id") {
			id, ok := parseRequestId(string(value))
			if !ok {
				return ErrMissingRequestID
			}
			d.head.requestID = id
			d.head.hasRequestID = true
			return nil
		}
		if headerNameIs(name, "lambda-runtime-client-context") {
			d.head.clientContext = string(value)
			d.head.hasClientContext = true
		}
		return nil
	case 31: // lambda-runtime-cognito-identity
		if headerNameIs(name, "lambda-runtime-cognito-identity") {
			d.head.cognitoIdentity = string(value)
			d.head.hasCognitoIdentity = true
		}
		return nil
	case 35: // lambda-runtime-invoked-function-arn
		if headerNameIs(name, "lambda-runtime-invoked-function-arn") {
			d.head.functionARN = string(value)
			d.head.hasFunctionARN = true
		}
		return nil
	default:
		return nil
	}
}

// parseCappedUint64 parses a decimal, non-negative integer, aborting on
// overflow before the multiply per spec.md §4.2.
func parseCappedUint64(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("voker: empty integer header value")
	}
	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("voker: non-digit byte in integer header value")
		}
		if n > (^uint64(0))/100 {
			return 0, fmt.Errorf("voker: integer header value overflow")
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
}

// finalize disambiguates the completed response by status code, per
// spec.md §4.2's "Response disambiguation" table.
func (d *Decoder) finalize(body []byte) (*controlPlaneResponse, error) {
	d.state = stateIdle
	closeAfter := d.head.nonOneOne || d.head.connectionClose

	switch {
	case d.head.statusCode == 200 && d.head.hasContentLength:
		if !d.head.hasRequestID {
			return nil, ErrMissingRequestID
		}
		if !d.head.hasDeadline {
			return nil, ErrMissingDeadline
		}
		if !d.head.hasFunctionARN {
			return nil, ErrMissingFunctionARN
		}
		traceID := d.head.traceID
		if !d.head.hasTraceID {
			traceID = synthesizeTraceID()
		}
		return &controlPlaneResponse{
			kind: respNext,
			metadata: InvocationMetadata{
				RequestID:            d.head.requestID,
				DeadlineMsSinceEpoch: int64(d.head.deadlineMs),
				InvokedFunctionArn:   d.head.functionARN,
				TraceID:              traceID,
				ClientContext:        d.head.clientContext,
				CognitoIdentity:      d.head.cognitoIdentity,
			},
			body:       body,
			closeAfter: closeAfter,
		}, nil

	case d.head.statusCode == 200:
		return nil, ErrInvocationMissingPayload

	case d.head.statusCode == 202:
		return &controlPlaneResponse{kind: respAccepted, closeAfter: closeAfter}, nil

	case d.head.statusCode == 400 || d.head.statusCode == 403:
		var rec ErrorRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("voker: decoding control-plane ErrorResponse: %w", err)
		}
		return &controlPlaneResponse{kind: respError, errorRecord: rec, closeAfter: closeAfter}, nil

	default:
		return nil, ErrUnexpectedStatusCode
	}
}

// synthesizeTraceID builds the fallback X-Ray trace id spec.md §3
// describes when the control plane omits Lambda-Runtime-Trace-Id.
func synthesizeTraceID() string {
	var epochHex [8]byte
	writeHex(epochHex[:], uint64(time.Now().Unix()))

	var randomHex [24]byte
	randomBytes := make([]byte, 12)
	_, _ = rand.Read(randomBytes)
	for i, b := range randomBytes {
		writeHexByte(randomHex[i*2:i*2+2], b)
	}

	return "Root=1-" + string(epochHex[:]) + "-" + string(randomHex[:]) + ";Sampled=0"
}

func writeHex(dst []byte, v uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = lowerHexTable[v&0xF]
		v >>= 4
	}
}

func writeHexByte(dst []byte, b byte) {
	dst[0] = lowerHexTable[b>>4]
	dst[1] = lowerHexTable[b&0xF]
}

// --- Encoder ---

const runtimeAPIVersion = "2018-06-01"

// userAgent identifies this runtime to the control plane, per
// SPEC_FULL.md §6 (the literal Swift user agent is a wire artifact of
// the Swift reference runtime, not a protocol requirement).
var userAgent = "aws-lambda-go-custom-runtime/" + moduleVersion + " go/" + runtime.Version()

const moduleVersion = "0.1.0"

// encodeGetNext builds the raw HTTP/1.1 request for GET .../invocation/next.
// keepAlive false advertises "Connection: close", per RuntimeConfig's
// KEEP_ALIVE setting (spec.md §3).
func encodeGetNext(host string, keepAlive bool) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "GET /%s/runtime/invocation/next HTTP/1.1\r\n", runtimeAPIVersion)
	writeCommonHeaders(&buf, host, 0, keepAlive)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// encodeInvocationResponse builds POST .../invocation/<id>/response.
func encodeInvocationResponse(host string, id RequestId, body []byte, keepAlive bool) []byte {
	var idBuf [36]byte
	id.ToASCIILower(&idBuf)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "POST /%s/runtime/invocation/%s/response HTTP/1.1\r\n", runtimeAPIVersion, idBuf[:])
	writeCommonHeaders(&buf, host, len(body), keepAlive)
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// encodeInvocationError builds POST .../invocation/<id>/error.
func encodeInvocationError(host string, id RequestId, rec ErrorRecord, keepAlive bool) []byte {
	var idBuf [36]byte
	id.ToASCIILower(&idBuf)

	body := encodeErrorRecordJSON(rec)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "POST /%s/runtime/invocation/%s/error HTTP/1.1\r\n", runtimeAPIVersion, idBuf[:])
	writeCommonHeaders(&buf, host, len(body), keepAlive)
	buf.WriteString("lambda-runtime-function-error-type: Unhandled\r\n")
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// encodeInitError builds POST .../runtime/init/error.
func encodeInitError(host string, rec ErrorRecord, keepAlive bool) []byte {
	body := encodeErrorRecordJSON(rec)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "POST /%s/runtime/init/error HTTP/1.1\r\n", runtimeAPIVersion)
	writeCommonHeaders(&buf, host, len(body), keepAlive)
	buf.WriteString("lambda-runtime-function-error-type: Unhandled\r\n")
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

func writeCommonHeaders(buf *bytes.Buffer, host string, contentLength int, keepAlive bool) {
	fmt.Fprintf(buf, "host: %s\r\n", host)
	fmt.Fprintf(buf, "user-agent: %s\r\n", userAgent)
	if !keepAlive {
		buf.WriteString("connection: close\r\n")
	}
	if contentLength > 0 {
		buf.WriteString("content-type: application/json\r\n")
		fmt.Fprintf(buf, "content-length: %s\r\n", strconv.Itoa(contentLength))
	}
}

// encodeErrorRecordJSON hand-rolls {"errorType":"...","errorMessage":"..."}
// with the minimal escaping spec.md §4.2 mandates: a backslash before any
// byte below 0x20 and before 0x22 and 0x5C. This is deliberately not
// encoding/json — the wire shape here is fixed and the escaping rule is
// narrower than general JSON string escaping.
func encodeErrorRecordJSON(rec ErrorRecord) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"errorType":"`)
	writeJSONEscaped(&buf, rec.ErrorType)
	buf.WriteString(`","errorMessage":"`)
	writeJSONEscaped(&buf, rec.ErrorMessage)
	buf.WriteString(`"}`)
	return buf.Bytes()
}

func writeJSONEscaped(buf *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b < 0x20 || b == 0x22 || b == 0x5C {
			buf.WriteByte('\\')
		}
		buf.WriteByte(b)
	}
}
