package wasmfix

const (
	opUnreachable = 0x00
	opBlock       = 0x02
	opLoop        = 0x03
	opIf          = 0x04
	opEnd         = 0x0b
	opBr          = 0x0c
	opBrIf        = 0x0d
	opReturn      = 0x0f
	opCall        = 0x10
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opLocalTee    = 0x22
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opF32Load     = 0x2a
	opI32Store    = 0x36
	opF32Store    = 0x38
	opMemorySize  = 0x3f
	opI32Const    = 0x41
	opI32Eqz      = 0x45
	opI32GtU      = 0x4b
	opI32GeU      = 0x4f
	opI32Add      = 0x6a
	opI32And      = 0x71
	opI32Shl      = 0x74
	opF32Mul      = 0x94

	blockVoid = 0x40
)

type code struct {
	writer
}

func (c *code) op(ops ...byte) { c.Byte(ops...) }

func (c *code) localGet(i uint32) {
	c.Byte(opLocalGet)
	c.U32(i)
}

func (c *code) localSet(i uint32) {
	c.Byte(opLocalSet)
	c.U32(i)
}

func (c *code) localTee(i uint32) {
	c.Byte(opLocalTee)
	c.U32(i)
}

func (c *code) i32Const(v int32) {
	c.Byte(opI32Const)
	c.S32(v)
}

func (c *code) call(idx uint32) {
	c.Byte(opCall)
	c.U32(idx)
}

// memarg emits a 4-byte aligned load or store at offset 0.
func (c *code) memarg(op byte) { c.Byte(op, 0x02, 0x00) }

func (c *code) ifThen() { c.Byte(opIf, blockVoid) }

func (c *code) returnConst(v int32) {
	c.i32Const(v)
	c.op(opReturn)
}

// memoryBytes pushes the current memory size in bytes.
func (c *code) memoryBytes() {
	c.Byte(opMemorySize, 0x00)
	c.i32Const(16)
	c.op(opI32Shl)
}

// scaled pushes local × 4.
func (c *code) scaled(local uint32) {
	c.localGet(local)
	c.i32Const(2)
	c.op(opI32Shl)
}

func (c *code) body() []byte {
	c.op(opEnd)
	return c.Bytes()
}

// malloc(size) with local 1 = ptr. Returns 0 for size 0 or when the region
// does not fit in current memory.
func mallocBody() []byte {
	var c code
	c.localGet(0)
	c.op(opI32Eqz)
	c.ifThen()
	c.returnConst(0)
	c.op(opEnd)

	c.localGet(0)
	c.memoryBytes()
	c.op(opI32GtU)
	c.ifThen()
	c.returnConst(0)
	c.op(opEnd)

	c.op(opGlobalGet, 0x00)
	c.i32Const(7)
	c.op(opI32Add)
	c.i32Const(-8)
	c.op(opI32And)
	c.localSet(1)

	c.localGet(1)
	c.localGet(0)
	c.op(opI32Add)
	c.memoryBytes()
	c.op(opI32GtU)
	c.ifThen()
	c.returnConst(0)
	c.op(opEnd)

	c.localGet(1)
	c.localGet(0)
	c.op(opI32Add)
	c.op(opGlobalSet, 0x00)
	c.localGet(1)
	return c.body()
}

// process_audio params: 0 input, 1 count, 2 instrument, 3 semitones,
// 4 volume, 5 length slot. Locals: 6 output, 7 index.
func processBody(b Behavior, malloc uint32) []byte {
	switch b {
	case Null:
		return nullBody()
	case Trap:
		return []byte{opUnreachable, opEnd}
	case BadLength:
		var c code
		c.scaled(1)
		c.call(malloc)
		c.localSet(6)
		c.localGet(5)
		c.i32Const(-1)
		c.memarg(opI32Store)
		c.localGet(6)
		return c.body()
	}

	var c code
	c.scaled(1)
	c.call(malloc)
	c.localTee(6)
	c.op(opI32Eqz)
	c.ifThen()
	c.localGet(5)
	c.i32Const(0)
	c.memarg(opI32Store)
	c.returnConst(0)
	c.op(opEnd)

	c.i32Const(0)
	c.localSet(7)
	c.op(opBlock, blockVoid)
	c.op(opLoop, blockVoid)
	c.localGet(7)
	c.localGet(1)
	c.op(opI32GeU)
	c.op(opBrIf, 1)

	c.localGet(6)
	c.scaled(7)
	c.op(opI32Add)
	c.localGet(0)
	c.scaled(7)
	c.op(opI32Add)
	c.memarg(opF32Load)
	c.localGet(4)
	c.op(opF32Mul)
	c.memarg(opF32Store)

	c.localGet(7)
	c.i32Const(1)
	c.op(opI32Add)
	c.localSet(7)
	c.op(opBr, 0)
	c.op(opEnd)
	c.op(opEnd)

	c.localGet(5)
	c.localGet(1)
	c.memarg(opI32Store)
	c.localGet(6)
	return c.body()
}

func nullBody() []byte {
	var c code
	c.localGet(5)
	c.i32Const(0)
	c.memarg(opI32Store)
	c.i32Const(0)
	return c.body()
}

func countBody() []byte {
	var c code
	c.i32Const(instrumentSize)
	return c.body()
}

func nameBody() []byte {
	var c code
	c.localGet(0)
	c.i32Const(instrumentSize)
	c.op(opI32GeU)
	c.ifThen()
	c.returnConst(0)
	c.op(opEnd)
	c.localGet(0)
	c.i32Const(4)
	c.op(opI32Shl)
	c.i32Const(NameTable)
	c.op(opI32Add)
	return c.body()
}

func initBody(printReady bool, fdWrite uint32) []byte {
	var c code
	c.i32Const(InitHeapBase)
	c.op(opGlobalSet, 0x00)
	if printReady {
		c.i32Const(1)
		c.i32Const(printIovec)
		c.i32Const(1)
		c.i32Const(printNwritten)
		c.call(fdWrite)
		c.op(opDrop)
	}
	return c.body()
}
