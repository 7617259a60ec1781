package api

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// controller holds what every HTTP controller needs.
type controller struct {
	logger logrus.FieldLogger
}

type webError struct {
	Error string `json:"error"`
}

// handleWebError sends the error message to the client.
func (ctl *controller) handleWebError(w http.ResponseWriter, status int, message string) {
	data, _ := json.Marshal(webError{Error: message})

	w.WriteHeader(status)
	w.Write(data)
}

// handleInternalError logs the error the client shouldn't see.
func (ctl *controller) handleInternalError(message string, err error) {
	if err != nil {
		ctl.logger.WithError(err).Error(message)
	}
}

// sendData writes the response body.
func (ctl *controller) sendData(w http.ResponseWriter, data []byte) {
	_, err := w.Write(data)
	ctl.handleInternalError("Couldn't send the response", err)
}
