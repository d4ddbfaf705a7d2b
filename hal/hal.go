// Package hal is the explicit graphics API seam used by dieselrhi.
//
// The interfaces follow the Vulkan object model one call at a time: handles
// are created and destroyed explicitly, memory is bound by the caller,
// command buffers are recorded with Cmd* calls and submitted with explicit
// semaphore and fence lists. Enum values carry the Vulkan numeric values so
// a backend can convert with a plain cast.
//
// Implementations: hal/vulkan (vulkan-go) and hal/haltest (software, for
// tests).
package hal

// Instance enumerates adapters and opens logical devices. An instance is
// created together with its presentation surface, if any.
type Instance interface {
	Adapters() ([]AdapterInfo, Result)
	Open(adapter int, opts DeviceOptions) (Device, Result)
	Destroy()
}

// Device is a logical device with a single graphics+present queue.
//
// Cmd* calls record into a command buffer that is between
// BeginCommandBuffer and EndCommandBuffer. Destroy* calls with a null
// handle are no-ops.
type Device interface {
	Info() AdapterInfo
	MemoryProperties() MemoryProperties
	WaitIdle() Result
	Destroy()

	AllocateMemory(size uint64, memoryType uint32) (DeviceMemory, Result)
	FreeMemory(mem DeviceMemory)
	// MapMemory maps size bytes starting at offset. The slice aliases the
	// device memory until UnmapMemory.
	MapMemory(mem DeviceMemory, offset, size uint64) ([]byte, Result)
	UnmapMemory(mem DeviceMemory)

	CreateBuffer(desc *BufferDesc) (Buffer, Result)
	DestroyBuffer(buf Buffer)
	BufferMemoryRequirements(buf Buffer) MemoryRequirements
	BindBufferMemory(buf Buffer, mem DeviceMemory, offset uint64) Result

	CreateImage(desc *ImageDesc) (Image, Result)
	DestroyImage(img Image)
	ImageMemoryRequirements(img Image) MemoryRequirements
	BindImageMemory(img Image, mem DeviceMemory, offset uint64) Result
	CreateImageView(desc *ImageViewDesc) (ImageView, Result)
	DestroyImageView(view ImageView)
	CreateSampler(desc *SamplerDesc) (Sampler, Result)
	DestroySampler(s Sampler)

	CreateShaderModule(code []uint32) (ShaderModule, Result)
	DestroyShaderModule(m ShaderModule)

	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, Result)
	DestroyDescriptorSetLayout(l DescriptorSetLayout)
	CreatePipelineLayout(sets []DescriptorSetLayout, pushConstantSize uint32, pushStages ShaderStage) (PipelineLayout, Result)
	DestroyPipelineLayout(l PipelineLayout)
	CreateDescriptorPool(desc *DescriptorPoolDesc) (DescriptorPool, Result)
	DestroyDescriptorPool(p DescriptorPool)
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, Result)
	UpdateDescriptorSet(set DescriptorSet, writes []DescriptorWrite)

	CreateRenderPass(attachments []AttachmentDesc) (RenderPass, Result)
	DestroyRenderPass(rp RenderPass)
	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (Pipeline, Result)
	DestroyPipeline(p Pipeline)
	CreateFramebuffer(desc *FramebufferDesc) (Framebuffer, Result)
	DestroyFramebuffer(fb Framebuffer)

	CreateCommandPool() (CommandPool, Result)
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffer(pool CommandPool) (CommandBuffer, Result)
	FreeCommandBuffer(pool CommandPool, cb CommandBuffer)
	// BeginCommandBuffer implicitly resets cb.
	BeginCommandBuffer(cb CommandBuffer) Result
	EndCommandBuffer(cb CommandBuffer) Result

	CmdPipelineBarrier(cb CommandBuffer, src, dst PipelineStage, barriers []ImageBarrier)
	CmdCopyBuffer(cb CommandBuffer, src, dst Buffer, regions []BufferCopy)
	CmdCopyBufferToImage(cb CommandBuffer, src Buffer, dst Image, layout ImageLayout, regions []BufferImageCopy)
	CmdCopyImageToBuffer(cb CommandBuffer, src Image, layout ImageLayout, dst Buffer, regions []BufferImageCopy)
	CmdBlitImage(cb CommandBuffer, src Image, srcLayout ImageLayout, dst Image, dstLayout ImageLayout, regions []ImageBlit, filter Filter)
	CmdBeginRenderPass(cb CommandBuffer, begin *RenderPassBegin)
	CmdEndRenderPass(cb CommandBuffer)
	CmdBindPipeline(cb CommandBuffer, p Pipeline)
	CmdSetViewport(cb CommandBuffer, vp Viewport)
	CmdSetScissor(cb CommandBuffer, r Rect2D)
	CmdBindVertexBuffers(cb CommandBuffer, first uint32, bufs []Buffer, offsets []uint64)
	CmdBindIndexBuffer(cb CommandBuffer, buf Buffer, offset uint64, t IndexType)
	CmdBindDescriptorSets(cb CommandBuffer, layout PipelineLayout, first uint32, sets []DescriptorSet)
	CmdPushConstants(cb CommandBuffer, layout PipelineLayout, stages ShaderStage, offset uint32, data []byte)
	CmdDraw(cb CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdDrawIndexed(cb CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)

	QueueSubmit(desc *SubmitDesc, fence Fence) Result
	QueueWaitIdle() Result

	CreateFence(signaled bool) (Fence, Result)
	DestroyFence(f Fence)
	// WaitForFence returns Success, Timeout or a failure.
	WaitForFence(f Fence, timeout uint64) Result
	ResetFence(f Fence) Result
	// FenceStatus returns Success when signaled and NotReady otherwise.
	FenceStatus(f Fence) Result

	CreateSemaphore(t SemaphoreType, initial uint64) (Semaphore, Result)
	DestroySemaphore(s Semaphore)
	// WaitSemaphore waits until a timeline semaphore reaches value.
	WaitSemaphore(s Semaphore, value uint64, timeout uint64) Result
	SemaphoreValue(s Semaphore) (uint64, Result)
	SignalSemaphore(s Semaphore, value uint64) Result

	SurfaceCapabilities() (SurfaceCapabilities, Result)
	SurfaceFormats() ([]SurfaceFormat, Result)
	SurfacePresentModes() ([]PresentMode, Result)
	CreateSwapchain(desc *SwapchainDesc) (Swapchain, Result)
	// DestroySwapchain also releases the images returned by SwapchainImages.
	DestroySwapchain(sc Swapchain)
	SwapchainImages(sc Swapchain) ([]Image, Result)
	AcquireNextImage(sc Swapchain, timeout uint64, sem Semaphore, fence Fence) (uint32, Result)
	QueuePresent(sc Swapchain, index uint32, wait Semaphore) Result
}
