package sms

import (
	"fmt"

	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/pkg/errormapper"
	"github.com/thrillee/smppgateway/pkg/pdu"
	"github.com/thrillee/smppgateway/pkg/segmenter"
	"github.com/thrillee/smppgateway/pkg/smpphelper"
)

// encodeBody picks the data coding for body and refuses anything that would
// need concatenation.
func encodeBody(seg segmenter.Segmenter, body string) (segmenter.Encoded, error) {
	enc, err := seg.Encode(body)
	if err != nil {
		return segmenter.Encoded{}, validationErrorf(errormapper.ErrorCodeValidationFailure, "encoding message body: %v", err)
	}
	if len(enc.Payload) > pdu.MaxShortMessageLength {
		return segmenter.Encoded{}, validationErrorf(errormapper.ErrorCodeMultipartUnsupported,
			"message needs %d parts (%d encoded bytes); concatenated messages are not supported", enc.Parts, len(enc.Payload))
	}
	return enc, nil
}

// buildSubmitSM turns a stored message into the submit_sm sent to the SMSC.
func buildSubmitSM(seg segmenter.Segmenter, msg database.Message) (*pdu.SubmitSM, error) {
	enc, err := encodeBody(seg, msg.Body)
	if err != nil {
		return nil, err
	}
	if byte(msg.DataCoding) != enc.DataCoding {
		return nil, fmt.Errorf("message %s: stored data_coding %d does not match body encoding %d", msg.ID, msg.DataCoding, enc.DataCoding)
	}

	src, srcTON, srcNPI := smpphelper.Address(msg.SenderID)
	dst, dstTON, dstNPI := smpphelper.Address(msg.Recipient)

	sm := &pdu.SubmitSM{ShortMessage: pdu.ShortMessage{
		ServiceType:        msg.ServiceType,
		SourceAddrTON:      srcTON,
		SourceAddrNPI:      srcNPI,
		SourceAddr:         src,
		DestAddrTON:        dstTON,
		DestAddrNPI:        dstNPI,
		DestinationAddr:    dst,
		ESMClass:           smpphelper.ESMClassDefault,
		PriorityFlag:       byte(msg.Priority),
		RegisteredDelivery: smpphelper.RegisteredDelivery(msg.RegisteredDelivery),
		DataCoding:         smpphelper.DataCodingFor(enc.DataCoding, msg.MessageType),
		Message:            enc.Payload,
	}}
	if msg.ReplaceIfPresent {
		sm.ReplaceIfPresent = 1
	}
	if msg.ScheduledTime != nil {
		sm.ScheduleDeliveryTime = smpphelper.FormatAbsoluteTime(*msg.ScheduledTime)
	}
	if msg.ValidityPeriod != nil {
		sm.ValidityPeriod = smpphelper.FormatAbsoluteTime(*msg.ValidityPeriod)
	}
	return sm, nil
}

// buildQuerySM addresses a query_sm the way the original submit_sm was addressed.
func buildQuerySM(msg database.Message) *pdu.QuerySM {
	src, ton, npi := smpphelper.Address(msg.SenderID)
	q := &pdu.QuerySM{SourceAddrTON: ton, SourceAddrNPI: npi, SourceAddr: src}
	if msg.SmscMessageID != nil {
		q.MessageID = *msg.SmscMessageID
	}
	return q
}
