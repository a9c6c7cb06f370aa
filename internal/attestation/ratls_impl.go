//go:build ratls

package attestation

import (
	"crypto/x509"
	"encoding/hex"
	"fmt"

	dstackratls "github.com/Dstack-TEE/dstack/sdk/go/ratls"

	"github.com/MrGarbonzo/secret-moltbot/internal/logx"
)

// RATLSAvailable reports whether RA-TLS certificate verification is compiled in.
func RATLSAvailable() bool { return true }

// hardwareVerifyCert checks whether the remote service's leaf certificate
// carries a verifiable RA-TLS quote extension. Returns (false, err) when the
// certificate has no quote or the quote fails verification; in both cases the
// service outcome degrades to partial rather than failing collection.
func hardwareVerifyCert(cert *x509.Certificate) (bool, error) {
	result, err := dstackratls.VerifyCert(cert)
	if err != nil {
		return false, fmt.Errorf("RA-TLS certificate verification failed: %w", err)
	}
	if result != nil && result.Report != nil {
		logRATLSMeasurements(result)
	}
	return true, nil
}

func logRATLSMeasurements(result *dstackratls.VerifyResult) {
	report := result.Report
	qr := report.Report
	logx.Debugf("ratls.verify status=%s qe_status=%s platform_status=%s advisory_ids=%v", report.Status, report.QEStatus.Status, report.PlatformStatus.Status, report.AdvisoryIDs)
	logx.Debugf("ratls.measurements type=%s mr_td=%s rtmr0=%s rtmr1=%s rtmr2=%s rtmr3=%s tee_tcb_svn=%s", qr.Type, fmtHex(qr.MrTD), fmtHex(qr.RTMR0), fmtHex(qr.RTMR1), fmtHex(qr.RTMR2), fmtHex(qr.RTMR3), fmtHex(qr.TeeTCBSVN))
}

func fmtHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	x := hex.EncodeToString(b)
	if logx.IsDebug() || len(x) <= 32 {
		return x
	}
	return x[:32] + "..."
}
