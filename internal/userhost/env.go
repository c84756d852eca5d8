package userhost

// The hostios in this file expose the immutable EVM context of the
// current frame. Scalar reads cost the fixed hostio ink; reads that
// write a word or address into guest memory add one pointer charge.

// BlockBasefee writes the block's base fee.
func (h *Host) BlockBasefee(ptr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+pr.PtrInk)
	h.writeBytes32(p, ptr, p.Data.BlockBasefee)
	h.trace(p, "block_basefee", nil, p.Data.BlockBasefee.Bytes(), start)
}

// BlockCoinbase writes the block's coinbase address.
func (h *Host) BlockCoinbase(ptr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+pr.PtrInk)
	h.writeBytes20(p, ptr, p.Data.BlockCoinbase)
	h.trace(p, "block_coinbase", nil, p.Data.BlockCoinbase.Bytes(), start)
}

// BlockDifficulty writes the block's difficulty, the post-merge
// prevrandao word on chains that repurposed it.
func (h *Host) BlockDifficulty(ptr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+pr.PtrInk)
	h.writeBytes32(p, ptr, p.Data.BlockDifficulty)
	h.trace(p, "block_difficulty", nil, p.Data.BlockDifficulty.Bytes(), start)
}

// BlockGasLimit returns the block's gas limit.
func (h *Host) BlockGasLimit() uint64 {
	p := h.current()
	start := h.charge(p, p.Config.Pricing.HostioInk)
	limit := p.Data.BlockGasLimit
	h.trace(p, "block_gas_limit", nil, be64(limit), start)
	return limit
}

// BlockNumber returns the block's number.
func (h *Host) BlockNumber() uint64 {
	p := h.current()
	start := h.charge(p, p.Config.Pricing.HostioInk)
	number := p.Data.BlockNumber
	h.trace(p, "block_number", nil, be64(number), start)
	return number
}

// BlockTimestamp returns the block's timestamp.
func (h *Host) BlockTimestamp() uint64 {
	p := h.current()
	start := h.charge(p, p.Config.Pricing.HostioInk)
	timestamp := p.Data.BlockTimestamp
	h.trace(p, "block_timestamp", nil, be64(timestamp), start)
	return timestamp
}

// ChainID returns the chain id.
func (h *Host) ChainID() uint64 {
	p := h.current()
	start := h.charge(p, p.Config.Pricing.HostioInk)
	id := p.Data.ChainID
	h.trace(p, "chainid", nil, be64(id), start)
	return id
}

// ContractAddress writes the executing contract's address.
func (h *Host) ContractAddress(ptr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+pr.PtrInk)
	h.writeBytes20(p, ptr, p.Data.ContractAddress)
	h.trace(p, "contract_address", nil, p.Data.ContractAddress.Bytes(), start)
}

// EvmGasLeft returns the remaining gas at the current ink price.
func (h *Host) EvmGasLeft() uint64 {
	p := h.current()
	start := h.charge(p, p.Config.Pricing.HostioInk)
	gas, err := p.Meter.GasLeft()
	h.must(err)
	h.trace(p, "evm_gas_left", be64(gas), nil, start)
	return gas
}

// EvmInkLeft returns the remaining ink.
func (h *Host) EvmInkLeft() uint64 {
	p := h.current()
	start := h.charge(p, p.Config.Pricing.HostioInk)
	ink, err := p.Meter.InkReady()
	h.must(err)
	h.trace(p, "evm_ink_left", be64(ink), nil, start)
	return ink
}

// MsgReentrant returns the re-entrancy depth of this frame.
func (h *Host) MsgReentrant() uint32 {
	p := h.current()
	start := h.charge(p, p.Config.Pricing.HostioInk)
	reentrant := p.Data.Reentrant
	h.trace(p, "msg_reentrant", nil, be32(reentrant), start)
	return reentrant
}

// MsgSender writes the caller's address.
func (h *Host) MsgSender(ptr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+pr.PtrInk)
	h.writeBytes20(p, ptr, p.Data.MsgSender)
	h.trace(p, "msg_sender", nil, p.Data.MsgSender.Bytes(), start)
}

// MsgValue writes the wei accompanying the call.
func (h *Host) MsgValue(ptr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+pr.PtrInk)
	h.writeBytes32(p, ptr, p.Data.MsgValue)
	h.trace(p, "msg_value", nil, p.Data.MsgValue.Bytes(), start)
}

// TxGasPrice writes the transaction's effective gas price.
func (h *Host) TxGasPrice(ptr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+pr.PtrInk)
	h.writeBytes32(p, ptr, p.Data.TxGasPrice)
	h.trace(p, "tx_gas_price", nil, p.Data.TxGasPrice.Bytes(), start)
}

// TxInkPrice returns the ink price of this run.
func (h *Host) TxInkPrice() uint32 {
	p := h.current()
	start := h.charge(p, p.Config.Pricing.HostioInk)
	price := p.Config.Pricing.InkPrice
	h.trace(p, "tx_ink_price", nil, be32(price), start)
	return price
}

// TxOrigin writes the transaction originator's address.
func (h *Host) TxOrigin(ptr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+pr.PtrInk)
	h.writeBytes20(p, ptr, p.Data.TxOrigin)
	h.trace(p, "tx_origin", nil, p.Data.TxOrigin.Bytes(), start)
}
