package redirect

import "net/http"

// Write sends an empty-bodied redirect to location. Every rejection this
// gateway produces goes through here; clients never see a raw error status,
// only a redirect to an operator-chosen page.
func Write(writer http.ResponseWriter, statusCode int, location string) {
	writer.Header().Set("Location", location)
	writer.Header().Set("Content-Length", "0")
	writer.WriteHeader(statusCode)
}

// Permanent sends a 301 redirect with an empty body.
func Permanent(writer http.ResponseWriter, location string) {
	Write(writer, http.StatusMovedPermanently, location)
}

// Temporary sends a 302 redirect with an empty body.
func Temporary(writer http.ResponseWriter, location string) {
	Write(writer, http.StatusFound, location)
}
