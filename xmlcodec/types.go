/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package xmlcodec parses and emits the KSR/SKR XML wire format into and
// out of package wire's in-memory model. Parsing fails closed: schema
// violations, unapproved algorithms, and duplicate key identifiers are
// rejected before a Document is ever handed back.
package xmlcodec

import "encoding/xml"

type xmlKSR struct {
	XMLName  xml.Name     `xml:"KSR"`
	ID       string       `xml:"id,attr"`
	Serial   uint32       `xml:"serial,attr"`
	Domain   string       `xml:"domain,attr"`
	Request  *xmlRequest  `xml:"Request"`
	Response *xmlResponse `xml:"Response"`
}

type xmlRequest struct {
	Timestamp string      `xml:"timestamp,attr,omitempty"`
	Policy    xmlReqPol   `xml:"RequestPolicy"`
	Bundles   []xmlBundle `xml:"RequestBundle"`
}

type xmlResponse struct {
	Timestamp string      `xml:"timestamp,attr,omitempty"`
	Policy    xmlRespPol  `xml:"ResponsePolicy"`
	Bundles   []xmlBundle `xml:"ResponseBundle"`
}

type xmlReqPol struct {
	ZSK xmlSigPolicy `xml:"ZSK"`
}

type xmlRespPol struct {
	KSK xmlSigPolicy `xml:"KSK"`
	ZSK xmlSigPolicy `xml:"ZSK"`
}

type xmlSigPolicy struct {
	PublishSafety        string       `xml:"PublishSafety"`
	RetireSafety         string       `xml:"RetireSafety"`
	MaxSignatureValidity string       `xml:"MaxSignatureValidity"`
	MinSignatureValidity string       `xml:"MinSignatureValidity"`
	MaxValidityOverlap   string       `xml:"MaxValidityOverlap"`
	MinValidityOverlap   string       `xml:"MinValidityOverlap"`
	Algorithms           []xmlSigAlgo `xml:"SignatureAlgorithm"`
}

type xmlSigAlgo struct {
	Algorithm uint8     `xml:"algorithm,attr"`
	RSA       *xmlRSA   `xml:"RSA"`
	DSA       *xmlDSA   `xml:"DSA"`
	ECDSA     *xmlECDSA `xml:"ECDSA"`
}

type xmlRSA struct {
	Size     int    `xml:"size,attr"`
	Exponent uint64 `xml:"exponent,attr"`
}

type xmlDSA struct {
	Size int `xml:"size,attr"`
}

type xmlECDSA struct {
	Size int `xml:"size,attr"`
}

type xmlBundle struct {
	ID         string         `xml:"id,attr"`
	Inception  string         `xml:"Inception"`
	Expiration string         `xml:"Expiration"`
	Signer     []string       `xml:"Signer,omitempty"`
	Keys       []xmlKey       `xml:"Key"`
	Signatures []xmlSignature `xml:"Signature"`
}

type xmlKey struct {
	KeyIdentifier string `xml:"keyIdentifier,attr"`
	KeyTag        uint16 `xml:"keyTag,attr"`
	TTL           uint32 `xml:"TTL"`
	Flags         uint16 `xml:"Flags"`
	Protocol      uint8  `xml:"Protocol"`
	Algorithm     uint8  `xml:"Algorithm"`
	PublicKey     string `xml:"PublicKey"`
}

type xmlSignature struct {
	KeyIdentifier       string `xml:"keyIdentifier,attr"`
	TTL                 uint32 `xml:"TTL"`
	TypeCovered         string `xml:"TypeCovered"`
	Algorithm           uint8  `xml:"Algorithm"`
	Labels              uint8  `xml:"Labels"`
	OriginalTTL         uint32 `xml:"OriginalTTL"`
	SignatureInception  string `xml:"SignatureInception"`
	SignatureExpiration string `xml:"SignatureExpiration"`
	KeyTag              uint16 `xml:"KeyTag"`
	SignersName         string `xml:"SignersName"`
	SignatureData       string `xml:"SignatureData"`
}
