package attestation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	dstacksdk "github.com/Dstack-TEE/dstack/sdk/go/dstack"
)

// DstackCollector collects enclave measurements from the dstack guest agent
// Info() RPC (/var/run/dstack.sock). Used when the agent runs on dstack
// instead of SecretVM; the guest agent reports its TCB as a tcb_info JSON
// document.
type DstackCollector struct {
	client *dstacksdk.DstackClient
}

func NewDstackCollector(endpoint string) *DstackCollector {
	opts := []dstacksdk.DstackClientOption{}
	if endpoint != "" {
		opts = append(opts, dstacksdk.WithEndpoint(endpoint))
	}
	return &DstackCollector{client: dstacksdk.NewDstackClient(opts...)}
}

// tcbInfo is the subset of dstack's tcb_info document this engine consumes.
type tcbInfo struct {
	Mrtd  string `json:"mrtd"`
	Rtmr0 string `json:"rtmr0"`
	Rtmr1 string `json:"rtmr1"`
	Rtmr2 string `json:"rtmr2"`
	Rtmr3 string `json:"rtmr3"`
}

func (c *DstackCollector) Collect(ctx context.Context) (MeasurementSet, error) {
	info, err := c.client.Info(ctx)
	if err != nil {
		// No guest agent socket: the expected state outside dstack.
		return AbsentMeasurementSet(), fmt.Errorf("%w: dstack info: %v", ErrUnavailable, err)
	}
	return parseTcbInfo(info.TcbInfo)
}

func parseTcbInfo(doc string) (MeasurementSet, error) {
	if strings.TrimSpace(doc) == "" {
		return AbsentMeasurementSet(), fmt.Errorf("%w: empty tcb_info", ErrMalformedQuote)
	}

	var tcb tcbInfo
	if err := json.Unmarshal([]byte(doc), &tcb); err != nil {
		return AbsentMeasurementSet(), fmt.Errorf("%w: parse tcb_info: %v", ErrMalformedQuote, err)
	}

	ms := MeasurementSet{
		MRTD:  present(strings.ToLower(tcb.Mrtd)),
		RTMR0: present(strings.ToLower(tcb.Rtmr0)),
		RTMR1: present(strings.ToLower(tcb.Rtmr1)),
		RTMR2: present(strings.ToLower(tcb.Rtmr2)),
		RTMR3: present(strings.ToLower(tcb.Rtmr3)),
	}
	if name, f, ok := badRegisterLength(ms); ok {
		return AbsentMeasurementSet(), fmt.Errorf("%w: tcb_info register %s has %d hex chars, want %d",
			ErrMalformedQuote, name, len(f.Value), measurementHexLen)
	}
	if !ms.AnyPresent() {
		return AbsentMeasurementSet(), fmt.Errorf("%w: tcb_info contains no measurements", ErrMalformedQuote)
	}
	return ms, nil
}
