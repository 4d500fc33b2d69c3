package tuple

// Opcode represents a single AVM instruction. The comments beside
// each opcode show the operands it carries in the tuple (ints, a
// float, a string, or a jump address) and what it pops and pushes.
type Opcode int32

const (
	Nop Opcode = iota

	// Stack operations
	PushNum // num
	PushStr // str
	Dup
	Swap
	Pop

	// Scalar variables
	LoadGlobal   // int1=index
	StoreGlobal  // int1=index
	LoadLocal    // int1=slot
	StoreLocal   // int1=slot
	LoadSpecial  // int1=index
	StoreSpecial // int1=index

	// Fields
	LoadField  // pops index
	StoreField // pops index, then value

	// Arrays
	LoadArray    // int1=scope int2=index; pops key
	StoreArray   // int1=scope int2=index; pops key, then value
	PushArrayRef // int1=scope int2=index
	In           // int1=scope int2=index; pops key
	Delete       // int1=scope int2=index; pops key
	DeleteAll    // int1=scope int2=index
	ForInStart   // int1=scope int2=index; pushes a key cursor
	ForInNext    // int1=varScope int2=varIndex addr=loop end
	IterDrop

	// Binary operators
	Add
	Subtract
	Multiply
	Divide
	Power
	Modulo
	Equals
	NotEquals
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
	Concat
	Match    // pops regex string, then subject
	NotMatch // pops regex string, then subject

	// Unary operators
	Not
	UnaryMinus
	UnaryPlus
	Boolean

	// Stand-alone regex /foo/, matches against $0
	Regex // str=regex

	// Multi-subscript join with SUBSEP
	IndexMulti // int1=count

	// Control flow
	Jump      // addr
	JumpFalse // addr
	JumpTrue  // addr
	Call      // int1=funcIndex int2=numArgs
	Return    // pops return value
	ReturnNull
	Next
	Nextfile
	Exit // int1=1 if a status was given (and is popped)
	Halt // end of a code segment

	// Builtin functions
	CallAtan2
	CallClose
	CallCos
	CallExp
	CallFflush
	CallFflushAll
	CallGsub
	CallIndex
	CallInt
	CallLength
	CallLengthArg
	CallLog
	CallMatch
	CallRand
	CallSin
	CallSplit    // int1=scope int2=index
	CallSplitSep // int1=scope int2=index
	CallSprintf  // int1=numArgs
	CallSqrt
	CallSrand
	CallSrandSeed
	CallSub
	CallSubstr
	CallSubstrLength
	CallSystem
	CallTolower
	CallToupper

	// Optional builtins (-x and -y switches)
	CallSleep // int1=numArgs
	CallDump  // int1=numArgs
	CallExec
	CastInt
	CastDouble
	CastString

	// Extension invocation by keyword
	ExtCall // str=keyword int1=numArgs

	// Print, printf, and getline
	Print        // int1=numArgs int2=redirect
	Printf       // int1=numArgs int2=redirect
	Getline      // int1=redirect
	GetlineField // int1=redirect; pops source name (if any), then index
	GetlineVar   // int1=redirect int2=varScope int3=varIndex
	GetlineArray // int1=redirect int2=arrayScope int3=arrayIndex

	EndOpcode
)

var opcodeNames = [...]string{
	Nop: "nop",

	PushNum: "push_num",
	PushStr: "push_str",
	Dup:     "dup",
	Swap:    "swap",
	Pop:     "pop",

	LoadGlobal:   "load_global",
	StoreGlobal:  "store_global",
	LoadLocal:    "load_local",
	StoreLocal:   "store_local",
	LoadSpecial:  "load_special",
	StoreSpecial: "store_special",

	LoadField:  "load_field",
	StoreField: "store_field",

	LoadArray:    "load_array",
	StoreArray:   "store_array",
	PushArrayRef: "push_array_ref",
	In:           "in",
	Delete:       "delete",
	DeleteAll:    "delete_all",
	ForInStart:   "for_in_start",
	ForInNext:    "for_in_next",
	IterDrop:     "iter_drop",

	Add:            "add",
	Subtract:       "sub",
	Multiply:       "mul",
	Divide:         "div",
	Power:          "pow",
	Modulo:         "mod",
	Equals:         "eq",
	NotEquals:      "ne",
	Less:           "lt",
	LessOrEqual:    "le",
	Greater:        "gt",
	GreaterOrEqual: "ge",
	Concat:         "concat",
	Match:          "match",
	NotMatch:       "not_match",

	Not:        "not",
	UnaryMinus: "neg",
	UnaryPlus:  "plus",
	Boolean:    "boolean",

	Regex: "regex",

	IndexMulti: "index_multi",

	Jump:       "jump",
	JumpFalse:  "jump_false",
	JumpTrue:   "jump_true",
	Call:       "call",
	Return:     "return",
	ReturnNull: "return_null",
	Next:       "next",
	Nextfile:   "nextfile",
	Exit:       "exit",
	Halt:       "halt",

	CallAtan2:        "call_atan2",
	CallClose:        "call_close",
	CallCos:          "call_cos",
	CallExp:          "call_exp",
	CallFflush:       "call_fflush",
	CallFflushAll:    "call_fflush_all",
	CallGsub:         "call_gsub",
	CallIndex:        "call_index",
	CallInt:          "call_int",
	CallLength:       "call_length",
	CallLengthArg:    "call_length_arg",
	CallLog:          "call_log",
	CallMatch:        "call_match",
	CallRand:         "call_rand",
	CallSin:          "call_sin",
	CallSplit:        "call_split",
	CallSplitSep:     "call_split_sep",
	CallSprintf:      "call_sprintf",
	CallSqrt:         "call_sqrt",
	CallSrand:        "call_srand",
	CallSrandSeed:    "call_srand_seed",
	CallSub:          "call_sub",
	CallSubstr:       "call_substr",
	CallSubstrLength: "call_substr_length",
	CallSystem:       "call_system",
	CallTolower:      "call_tolower",
	CallToupper:      "call_toupper",

	CallSleep:  "call_sleep",
	CallDump:   "call_dump",
	CallExec:   "call_exec",
	CastInt:    "cast_int",
	CastDouble: "cast_double",
	CastString: "cast_string",

	ExtCall: "ext_call",

	Print:        "print",
	Printf:       "printf",
	Getline:      "getline",
	GetlineField: "getline_field",
	GetlineVar:   "getline_var",
	GetlineArray: "getline_array",
}

func (op Opcode) String() string {
	if op >= 0 && int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return "<unknown opcode>"
}
