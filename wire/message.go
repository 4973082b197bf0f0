package wire

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Constants

// Field names of a message body.
const (
	FieldCommand = "mqsh.cmd"
	FieldSubject = "mqsh.subject"
	FieldType    = "mqsh.type"
	FieldPairs   = "mqsh.pairs"
	FieldKeys    = "mqsh.keys"
	FieldReply   = "mqsh.reply"
)

// Command tags.
const (
	CmdUpdate           Command = "update"
	CmdDelete           Command = "delete"
	CmdBroadcastRequest Command = "bcrequest"
	CmdBroadcastReply   Command = "bcreply"
	CmdRemove           Command = "remove"
)

// Object types.
const (
	TypeHash  Type = "hash"
	TypeQueue Type = "queue"
)

// Delimiters of the body grammar.
const (
	fieldSep    = "&"
	assignSep   = "="
	subjectSep  = "%"
	recordSep   = "|"
	valueSep    = "~"
	changeIDSep = "%"
	indexMark   = "#"
	wildcard    = "/*"
)

// AllSubjects marks a pair that applies to every
// subject a message addresses.
const AllSubjects = -1

// Structs

// Command is the tag saying what a message does.
type Command string

// Type tells which registry a subject lives in.
type Type string

// Pair is one key/value record of an update or
// broadcast reply. Subject is the index into the
// message's subject list or AllSubjects.
type Pair struct {
	Subject  int
	Key      string
	Value    string
	ChangeID uint64
}

// Message is the decoded form of one wire body.
// Which of Pairs, Keys and ReplyTo is used depends
// on Command.
type Message struct {
	Command  Command
	Subjects []string
	Type     Type
	Pairs    []Pair
	Keys     []string
	ReplyTo  string
}

// Functions

// Valid reports whether c is one of the known command tags.
func (c Command) Valid() bool {

	switch c {
	case CmdUpdate, CmdDelete, CmdBroadcastRequest, CmdBroadcastReply, CmdRemove:
		return true
	}

	return false
}

// Valid reports whether t names one of the two registries.
func (t Type) Valid() bool {
	return t == TypeHash || t == TypeQueue
}

// NewUpdate returns an update for a single subject.
// All pairs apply to that subject.
func NewUpdate(subject string, typ Type, pairs []Pair) *Message {

	for i := range pairs {
		pairs[i].Subject = AllSubjects
	}

	return &Message{
		Command:  CmdUpdate,
		Subjects: []string{subject},
		Type:     typ,
		Pairs:    pairs,
	}
}

// NewMuxUpdate returns a multiplexed update. Every pair
// has to carry the index of its subject in subjects.
func NewMuxUpdate(subjects []string, typ Type, pairs []Pair) *Message {

	return &Message{
		Command:  CmdUpdate,
		Subjects: subjects,
		Type:     typ,
		Pairs:    pairs,
	}
}

// NewDelete returns a delete message for keys of subject.
func NewDelete(subject string, typ Type, keys []string) *Message {

	return &Message{
		Command:  CmdDelete,
		Subjects: []string{subject},
		Type:     typ,
		Keys:     keys,
	}
}

// NewBroadcastRequest asks holders of subject to send
// their full contents to replyTo.
func NewBroadcastRequest(subject string, typ Type, replyTo string) *Message {

	return &Message{
		Command:  CmdBroadcastRequest,
		Subjects: []string{subject},
		Type:     typ,
		ReplyTo:  replyTo,
	}
}

// NewBroadcastReply carries the full contents of subject.
func NewBroadcastReply(subject string, typ Type, pairs []Pair) *Message {

	m := NewUpdate(subject, typ, pairs)
	m.Command = CmdBroadcastReply

	return m
}

// NewRemove tells peers to drop subject.
func NewRemove(subject string, typ Type) *Message {

	return &Message{
		Command:  CmdRemove,
		Subjects: []string{subject},
		Type:     typ,
	}
}

// Wildcard returns the subject prefix if the message
// addresses subjects by a trailing '/*' pattern.
func (m *Message) Wildcard() (string, bool) {

	if len(m.Subjects) != 1 {
		return "", false
	}

	idx := strings.Index(m.Subjects[0], wildcard)
	if idx < 0 {
		return "", false
	}

	return m.Subjects[0][:idx], true
}

// Encode marshals m into its body representation.
func (m *Message) Encode() string {

	var b strings.Builder

	b.WriteString(FieldCommand)
	b.WriteString(assignSep)
	b.WriteString(string(m.Command))

	b.WriteString(fieldSep)
	b.WriteString(FieldSubject)
	b.WriteString(assignSep)
	b.WriteString(strings.Join(m.Subjects, subjectSep))

	b.WriteString(fieldSep)
	b.WriteString(FieldType)
	b.WriteString(assignSep)
	b.WriteString(string(m.Type))

	switch m.Command {

	case CmdUpdate, CmdBroadcastReply:
		b.WriteString(fieldSep)
		b.WriteString(FieldPairs)
		b.WriteString(assignSep)
		for _, p := range m.Pairs {
			b.WriteString(EncodePair(p))
		}

	case CmdDelete:
		b.WriteString(fieldSep)
		b.WriteString(FieldKeys)
		b.WriteString(assignSep)
		for _, key := range m.Keys {
			b.WriteString(recordSep)
			b.WriteString(key)
		}

	case CmdBroadcastRequest:
		b.WriteString(fieldSep)
		b.WriteString(FieldReply)
		b.WriteString(assignSep)
		b.WriteString(m.ReplyTo)
	}

	return b.String()
}

// String fulfills fmt.Stringer.
func (m *Message) String() string {
	return m.Encode()
}

// Size returns the length in bytes of the encoded message.
func (m *Message) Size() int {
	return len(m.Encode())
}

// EncodePair returns the record of p as it appears
// in the pairs field, including the leading '|'.
func EncodePair(p Pair) string {

	var b strings.Builder

	b.WriteString(recordSep)

	if p.Subject != AllSubjects {
		b.WriteString(indexMark)
		b.WriteString(strconv.Itoa(p.Subject))
		b.WriteString(indexMark)
	}

	b.WriteString(p.Key)
	b.WriteString(valueSep)
	b.WriteString(p.Value)
	b.WriteString(changeIDSep)
	b.WriteString(strconv.FormatUint(p.ChangeID, 10))

	return b.String()
}

// Decode parses a received body into a Message. It only
// checks the grammar, whether addressed subjects exist
// is up to the caller.
func Decode(raw string) (*Message, error) {

	fields := make(map[string]string)

	for _, field := range strings.Split(raw, fieldSep) {

		parts := strings.SplitN(field, assignSep, 2)
		if len(parts) != 2 {
			continue
		}

		// First occurrence wins.
		if _, exists := fields[parts[0]]; !exists {
			fields[parts[0]] = parts[1]
		}
	}

	m := new(Message)

	cmd, ok := fields[FieldCommand]
	if !ok || cmd == "" {
		return nil, ErrNoCommand
	}

	m.Command = Command(cmd)
	if !m.Command.Valid() {
		return nil, errors.Wrapf(ErrUnknownCommand, "command '%s'", cmd)
	}

	subjects, err := decodeSubjects(fields[FieldSubject])
	if err != nil {
		return nil, err
	}
	m.Subjects = subjects

	typ, ok := fields[FieldType]
	if !ok || typ == "" {
		return nil, ErrNoType
	}

	m.Type = Type(typ)
	if !m.Type.Valid() {
		return nil, errors.Wrapf(ErrUnknownType, "type '%s'", typ)
	}

	switch m.Command {

	case CmdUpdate, CmdBroadcastReply:

		m.Pairs, err = decodePairs(fields[FieldPairs], len(m.Subjects))
		if err != nil {
			return nil, err
		}

	case CmdDelete:

		m.Keys = decodeKeys(fields[FieldKeys])
		if len(m.Keys) == 0 {
			return nil, ErrNoKeys
		}

	case CmdBroadcastRequest:

		m.ReplyTo = fields[FieldReply]
		if m.ReplyTo == "" {
			return nil, ErrNoReply
		}
	}

	return m, nil
}

// decodeSubjects splits the subject field. A wildcard
// pattern is kept as one single subject.
func decodeSubjects(field string) ([]string, error) {

	if field == "" {
		return nil, ErrNoSubject
	}

	if strings.Contains(field, wildcard) {
		return []string{field}, nil
	}

	subjects := strings.Split(field, subjectSep)
	for _, subject := range subjects {

		if subject == "" {
			return nil, errors.Wrapf(ErrNoSubject, "empty entry in subject list '%s'", field)
		}
	}

	return subjects, nil
}

// decodePairs parses the '|key~value%changeid' records
// of a pairs field. numSubjects bounds the subject
// index prefixes of multiplexed keys.
func decodePairs(field string, numSubjects int) ([]Pair, error) {

	records := strings.Split(field, recordSep)

	// Anything in front of the first '|' is not a record.
	if len(records) < 2 {
		return nil, ErrNoPairs
	}
	records = records[1:]

	pairs := make([]Pair, 0, len(records))

	for _, record := range records {

		if record == "" {
			continue
		}

		tilde := strings.Index(record, valueSep)
		if tilde < 0 {
			return nil, errors.Wrapf(ErrMalformedPairs, "record '%s' lacks '%s'", record, valueSep)
		}

		percent := strings.LastIndex(record, changeIDSep)
		if percent < tilde {
			return nil, errors.Wrapf(ErrMalformedPairs, "record '%s' lacks change id", record)
		}

		changeID, err := strconv.ParseUint(record[(percent+1):], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedPairs, "record '%s' has invalid change id", record)
		}

		subject, key, err := decodeKey(record[:tilde], numSubjects)
		if err != nil {
			return nil, err
		}

		pairs = append(pairs, Pair{
			Subject:  subject,
			Key:      key,
			Value:    record[(tilde + 1):percent],
			ChangeID: changeID,
		})
	}

	if len(pairs) == 0 {
		return nil, ErrNoPairs
	}

	return pairs, nil
}

// decodeKey strips an optional '#<index>#' prefix.
func decodeKey(raw string, numSubjects int) (int, string, error) {

	if !strings.HasPrefix(raw, indexMark) {

		if raw == "" {
			return 0, "", errors.Wrap(ErrMalformedPairs, "empty key")
		}

		return AllSubjects, raw, nil
	}

	end := strings.Index(raw[1:], indexMark)
	if end < 0 {
		return 0, "", errors.Wrapf(ErrMalformedPairs, "unterminated subject index in key '%s'", raw)
	}
	end++

	idx, err := strconv.Atoi(raw[1:end])
	if err != nil || idx < 0 || idx >= numSubjects {
		return 0, "", errors.Wrapf(ErrMalformedPairs, "invalid subject index in key '%s'", raw)
	}

	key := raw[(end + 1):]
	if key == "" {
		return 0, "", errors.Wrapf(ErrMalformedPairs, "empty key after subject index in '%s'", raw)
	}

	return idx, key, nil
}

// decodeKeys splits the '|key' records of a keys field.
func decodeKeys(field string) []string {

	keys := make([]string, 0)

	for _, key := range strings.Split(field, recordSep) {

		if key != "" {
			keys = append(keys, key)
		}
	}

	return keys
}
