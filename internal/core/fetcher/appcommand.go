package fetcher

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/antchfx/xmlquery"

	"github.com/avrlink/avrlink/internal/core"
)

// maxCmdsPerTx is the largest number of cmd elements the receiver accepts
// in one tx element. Longer batches are split into several tx roots.
const maxCmdsPerTx = 5

type txParam struct {
	Name string `xml:"name,attr"`
	Text string `xml:",chardata"`
}

type txList struct {
	Params []txParam `xml:"param"`
}

type txCmd struct {
	ID   string  `xml:"id,attr"`
	Text string  `xml:",chardata"`
	Name string  `xml:"name,omitempty"`
	List *txList `xml:"list,omitempty"`
}

type txRoot struct {
	XMLName xml.Name `xml:"tx"`
	Cmds    []txCmd  `xml:"cmd"`
}

// BuildAppCommandBody encodes cmds as one or more tx roots with at most
// five cmd elements each. Only the first root carries the XML declaration.
func BuildAppCommandBody(cmds []core.AppCommand) ([]byte, error) {
	if len(cmds) == 0 {
		return nil, fmt.Errorf("%w: no commands to send", core.ErrInvalidArgument)
	}

	var buf bytes.Buffer
	for start := 0; start < len(cmds); start += maxCmdsPerTx {
		end := start + maxCmdsPerTx
		if end > len(cmds) {
			end = len(cmds)
		}
		if start == 0 {
			buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
		}

		root := txRoot{Cmds: make([]txCmd, 0, end-start)}
		for _, c := range cmds[start:end] {
			tc := txCmd{ID: c.ID, Text: c.Text, Name: c.Name}
			if len(c.Params) > 0 {
				tc.List = &txList{}
				for _, p := range c.Params {
					tc.List.Params = append(tc.List.Params, txParam(p))
				}
			}
			root.Cmds = append(root.Cmds, tc)
		}

		out, err := xml.Marshal(root)
		if err != nil {
			return nil, fmt.Errorf("encode appcommand body: %w", err)
		}
		buf.Write(out)
	}
	return buf.Bytes(), nil
}

// annotateResponse checks that the response has one cmd or error element per
// query command and copies each query's cmd text and name onto it so search
// paths can address them.
func annotateResponse(doc *Document, cmds []core.AppCommand) error {
	children := childElements(doc.root)
	if len(children) != len(cmds) {
		return fmt.Errorf("%w: query has %d elements, response %d",
			core.ErrInvalidResponse, len(cmds), len(children))
	}
	for i, child := range children {
		if child.Data != "cmd" && child.Data != "error" {
			return fmt.Errorf("%w: unexpected element %q in response", core.ErrInvalidResponse, child.Data)
		}
		if cmds[i].Text != "" {
			setAttr(child, core.AttrCmdText, cmds[i].Text)
		}
		if cmds[i].Name != "" {
			setAttr(child, core.AttrCmdName, cmds[i].Name)
		}
	}
	return nil
}

func setAttr(n *xmlquery.Node, name, value string) {
	for i := range n.Attr {
		if n.Attr[i].Name.Local == name {
			n.Attr[i].Value = value
			return
		}
	}
	xmlquery.AddAttr(n, name, value)
}
