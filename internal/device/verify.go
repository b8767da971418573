package device

import (
	"strings"

	"schoolattend/internal/attendance"
)

var verifyCodes = map[string]attendance.VerifyMethod{
	"0":        attendance.VerifyPassword,
	"1":        attendance.VerifyFingerprint,
	"4":        attendance.VerifyRFIDCard,
	"15":       attendance.VerifyFaceRecognition,
	"Face":     attendance.VerifyFaceRecognition,
	"Finger":   attendance.VerifyFingerprint,
	"Card":     attendance.VerifyRFIDCard,
	"Password": attendance.VerifyPassword,
}

// MapVerify translates terminal verify codes. Unknown codes pass through
// verbatim; an empty code means face recognition.
func MapVerify(raw string) attendance.VerifyMethod {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return attendance.VerifyFaceRecognition
	}
	if m, ok := verifyCodes[raw]; ok {
		return m
	}
	return attendance.VerifyMethod(raw)
}
