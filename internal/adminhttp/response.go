package adminhttp

// Status is the outer envelope discriminant for every JSON response this
// server returns.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "error"
)

// Response is the standard envelope: a health check with no leader
// checker carries nothing but Status, data endpoints (and a health check
// reporting leadership) carry Data, failures carry Error.
type Response struct {
	Status Status      `json:"status,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func okResponse() Response {
	return Response{Status: StatusOK}
}

func dataResponse(data interface{}) Response {
	return Response{Status: StatusOK, Data: data}
}

func errorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
