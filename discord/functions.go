package discord

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/mitchellh/mapstructure"
)

// Request is a blank interface for the command request definitions.
type Request interface{}

// Command is the common interface for all prefix commands.
type Command interface {
	GetName() string
	GetDescription() string
	GetRequestPrototype() Request
	// HandleMessage decodes the words following the command name into a request
	// struct and calls the handler. The returned message is sent as the reply.
	HandleMessage(ctx context.Context, args []string) (*discordgo.MessageSend, error)
}

// GenericCommand is a generic implementation of Command.
type GenericCommand[T Request] struct {
	// Name is the command name, matched case-insensitively after the prefix.
	Name        string
	Description string
	// RequestPrototype is the zero value of the request type, used for
	// reflection when decoding arguments and building usage lines.
	RequestPrototype T
	Handler          func(ctx context.Context, req T) (*discordgo.MessageSend, error)
}

// GetName returns the command's name.
func (c *GenericCommand[T]) GetName() string {
	return c.Name
}

// GetDescription returns the command's help text.
func (c *GenericCommand[T]) GetDescription() string {
	return c.Description
}

// GetRequestPrototype returns the command's request prototype.
func (c *GenericCommand[T]) GetRequestPrototype() Request {
	return c.RequestPrototype
}

// HandleMessage maps args onto the request fields in declaration order, decodes
// them with mapstructure, applies defaults and checks choices.
func (c *GenericCommand[T]) HandleMessage(ctx context.Context, args []string) (*discordgo.MessageSend, error) {
	var req T

	var specs []argSpec
	if t := reflect.TypeOf(req); t != nil {
		if t.Kind() != reflect.Struct {
			return nil, fmt.Errorf("request of %s is not a struct", c.Name)
		}
		specs = typeToArgs(t)
	}

	optsMap, err := argsToMap(specs, args)
	if err != nil {
		return nil, &ArgumentError{Err: err}
	}

	decoderConfig := mapstructure.DecoderConfig{
		TagName:          "arg",
		Result:           &req,
		WeaklyTypedInput: true, // "3" -> 3, "true" -> true
	}
	decoder, err := mapstructure.NewDecoder(&decoderConfig)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(optsMap); err != nil {
		return nil, &ArgumentError{Err: err}
	}

	if len(specs) > 0 {
		v := reflect.ValueOf(&req).Elem()
		if err := applyDefaults(v, specs); err != nil {
			return nil, err
		}
		if err := checkChoices(v, specs); err != nil {
			return nil, &ArgumentError{Err: err}
		}
	}

	return c.Handler(ctx, req)
}

// ArgumentError reports arguments that do not fit the command's request struct.
type ArgumentError struct {
	Err error
}

func (e *ArgumentError) Error() string {
	return "invalid arguments: " + e.Err.Error()
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// NewCommand creates a Command for handler. The request struct controls the
// arguments through two struct tags:
//
//   - arg:      the argument name (defaults to the lowercased field name).
//   - discord:  comma separated options: optional, description:<text>,
//     choices:<a|Label A;b|Label B>, default:<value>.
//
// Arguments are positional. A trailing string field receives all remaining words.
func NewCommand[T Request](name, description string, handler func(ctx context.Context, req T) (*discordgo.MessageSend, error)) Command {
	var reqPrototype T
	return &GenericCommand[T]{
		Name:             strings.ToLower(name),
		Description:      description,
		RequestPrototype: reqPrototype,
		Handler:          handler,
	}
}

// Usage renders a one line usage string such as "!sheet <range>".
func Usage(prefix string, cmd Command) string {
	args, err := structToArgs(cmd.GetRequestPrototype())
	if err != nil || len(args) == 0 {
		return prefix + cmd.GetName()
	}

	parts := []string{prefix + cmd.GetName()}
	for _, a := range args {
		if a.Required {
			parts = append(parts, "<"+a.Name+">")
		} else {
			parts = append(parts, "["+a.Name+"]")
		}
	}
	return strings.Join(parts, " ")
}

// Argument documents one positional argument of a command.
type Argument struct {
	Name        string
	Description string
	Required    bool
	Choices     []string
}

// Arguments lists the positional arguments of cmd in order.
func Arguments(cmd Command) []Argument {
	specs, err := structToArgs(cmd.GetRequestPrototype())
	if err != nil {
		return nil
	}
	out := make([]Argument, 0, len(specs))
	for _, spec := range specs {
		arg := Argument{Name: spec.Name, Description: spec.Description, Required: spec.Required}
		for _, c := range spec.Choices {
			arg.Choices = append(arg.Choices, c.Value)
		}
		out = append(out, arg)
	}
	return out
}

// TextReply is a helper for handlers that answer with plain text.
func TextReply(content string) *discordgo.MessageSend {
	return &discordgo.MessageSend{Content: content}
}
