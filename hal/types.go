package hal

// Opaque object handles. Zero is the null handle for every kind.
type (
	Buffer              uint64
	Image               uint64
	ImageView           uint64
	Sampler             uint64
	DeviceMemory        uint64
	ShaderModule        uint64
	DescriptorSetLayout uint64
	DescriptorPool      uint64
	DescriptorSet       uint64
	PipelineLayout      uint64
	Pipeline            uint64
	RenderPass          uint64
	Framebuffer         uint64
	CommandPool         uint64
	CommandBuffer       uint64
	Fence               uint64
	Semaphore           uint64
	Swapchain           uint64
)

// AdapterType mirrors VkPhysicalDeviceType.
type AdapterType int32

const (
	AdapterOther AdapterType = iota
	AdapterIntegrated
	AdapterDiscrete
	AdapterVirtual
	AdapterCPU
)

func (t AdapterType) String() string {
	switch t {
	case AdapterIntegrated:
		return "integrated"
	case AdapterDiscrete:
		return "discrete"
	case AdapterVirtual:
		return "virtual"
	case AdapterCPU:
		return "cpu"
	}
	return "other"
}

type ImageType int32

const (
	ImageType1D ImageType = 0
	ImageType2D ImageType = 1
	ImageType3D ImageType = 2
)

type ViewType int32

const (
	ViewType1D        ViewType = 0
	ViewType2D        ViewType = 1
	ViewType3D        ViewType = 2
	ViewTypeCube      ViewType = 3
	ViewType1DArray   ViewType = 4
	ViewType2DArray   ViewType = 5
	ViewTypeCubeArray ViewType = 6
)

// ImageLayout mirrors VkImageLayout.
type ImageLayout int32

const (
	LayoutUndefined              ImageLayout = 0
	LayoutGeneral                ImageLayout = 1
	LayoutColorAttachment        ImageLayout = 2
	LayoutDepthStencilAttachment ImageLayout = 3
	LayoutDepthStencilReadOnly   ImageLayout = 4
	LayoutShaderReadOnly         ImageLayout = 5
	LayoutTransferSrc            ImageLayout = 6
	LayoutTransferDst            ImageLayout = 7
	LayoutPresentSrc             ImageLayout = 1000001002
)

func (l ImageLayout) String() string {
	switch l {
	case LayoutUndefined:
		return "Undefined"
	case LayoutGeneral:
		return "General"
	case LayoutColorAttachment:
		return "ColorAttachment"
	case LayoutDepthStencilAttachment:
		return "DepthStencilAttachment"
	case LayoutDepthStencilReadOnly:
		return "DepthStencilReadOnly"
	case LayoutShaderReadOnly:
		return "ShaderReadOnly"
	case LayoutTransferSrc:
		return "TransferSrc"
	case LayoutTransferDst:
		return "TransferDst"
	case LayoutPresentSrc:
		return "PresentSrc"
	}
	return "Unknown"
}

// PipelineStage mirrors VkPipelineStageFlags.
type PipelineStage uint32

const (
	StageTopOfPipe             PipelineStage = 0x00000001
	StageDrawIndirect          PipelineStage = 0x00000002
	StageVertexInput           PipelineStage = 0x00000004
	StageVertexShader          PipelineStage = 0x00000008
	StageFragmentShader        PipelineStage = 0x00000080
	StageEarlyFragmentTests    PipelineStage = 0x00000100
	StageLateFragmentTests     PipelineStage = 0x00000200
	StageColorAttachmentOutput PipelineStage = 0x00000400
	StageComputeShader         PipelineStage = 0x00000800
	StageTransfer              PipelineStage = 0x00001000
	StageBottomOfPipe          PipelineStage = 0x00002000
	StageHost                  PipelineStage = 0x00004000
	StageAllGraphics           PipelineStage = 0x00008000
	StageAllCommands           PipelineStage = 0x00010000
)

// Access mirrors VkAccessFlags.
type Access uint32

const (
	AccessIndirectCommandRead         Access = 0x00000001
	AccessIndexRead                   Access = 0x00000002
	AccessVertexAttributeRead         Access = 0x00000004
	AccessUniformRead                 Access = 0x00000008
	AccessInputAttachmentRead         Access = 0x00000010
	AccessShaderRead                  Access = 0x00000020
	AccessShaderWrite                 Access = 0x00000040
	AccessColorAttachmentRead         Access = 0x00000080
	AccessColorAttachmentWrite        Access = 0x00000100
	AccessDepthStencilAttachmentRead  Access = 0x00000200
	AccessDepthStencilAttachmentWrite Access = 0x00000400
	AccessTransferRead                Access = 0x00000800
	AccessTransferWrite               Access = 0x00001000
	AccessHostRead                    Access = 0x00002000
	AccessHostWrite                   Access = 0x00004000
	AccessMemoryRead                  Access = 0x00008000
	AccessMemoryWrite                 Access = 0x00010000
)

type ImageAspect uint32

const (
	AspectColor   ImageAspect = 0x1
	AspectDepth   ImageAspect = 0x2
	AspectStencil ImageAspect = 0x4
)

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 0x001
	BufferUsageTransferDst BufferUsage = 0x002
	BufferUsageUniform     BufferUsage = 0x010
	BufferUsageStorage     BufferUsage = 0x020
	BufferUsageIndex       BufferUsage = 0x040
	BufferUsageVertex      BufferUsage = 0x080
	BufferUsageIndirect    BufferUsage = 0x100
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc            ImageUsage = 0x01
	ImageUsageTransferDst            ImageUsage = 0x02
	ImageUsageSampled                ImageUsage = 0x04
	ImageUsageStorage                ImageUsage = 0x08
	ImageUsageColorAttachment        ImageUsage = 0x10
	ImageUsageDepthStencilAttachment ImageUsage = 0x20
)

// MemoryProperty mirrors VkMemoryPropertyFlags.
type MemoryProperty uint32

const (
	MemoryDeviceLocal  MemoryProperty = 0x01
	MemoryHostVisible  MemoryProperty = 0x02
	MemoryHostCoherent MemoryProperty = 0x04
	MemoryHostCached   MemoryProperty = 0x08
	MemoryLazily       MemoryProperty = 0x10
)

type DescriptorType int32

const (
	DescriptorSampler              DescriptorType = 0
	DescriptorCombinedImageSampler DescriptorType = 1
	DescriptorSampledImage         DescriptorType = 2
	DescriptorStorageImage         DescriptorType = 3
	DescriptorUniformBuffer        DescriptorType = 6
	DescriptorStorageBuffer        DescriptorType = 7
)

type ShaderStage uint32

const (
	ShaderStageVertex      ShaderStage = 0x01
	ShaderStageFragment    ShaderStage = 0x10
	ShaderStageCompute     ShaderStage = 0x20
	ShaderStageAllGraphics ShaderStage = 0x1F
)

type IndexType int32

const (
	IndexTypeUint16 IndexType = 0
	IndexTypeUint32 IndexType = 1
)

type PolygonMode int32

const (
	PolygonFill PolygonMode = 0
	PolygonLine PolygonMode = 1
)

type LoadOp int32

const (
	LoadOpLoad     LoadOp = 0
	LoadOpClear    LoadOp = 1
	LoadOpDontCare LoadOp = 2
)

type StoreOp int32

const (
	StoreOpStore    StoreOp = 0
	StoreOpDontCare StoreOp = 1
)

type PresentMode int32

const (
	PresentImmediate   PresentMode = 0
	PresentMailbox     PresentMode = 1
	PresentFifo        PresentMode = 2
	PresentFifoRelaxed PresentMode = 3
)

func (m PresentMode) String() string {
	switch m {
	case PresentImmediate:
		return "immediate"
	case PresentMailbox:
		return "mailbox"
	case PresentFifo:
		return "fifo"
	case PresentFifoRelaxed:
		return "fifo_relaxed"
	}
	return "unknown"
}

type ColorSpace int32

const (
	ColorSpaceSRGBNonlinear      ColorSpace = 0
	ColorSpaceDisplayP3Nonlinear ColorSpace = 1000104001
)

type Filter int32

const (
	FilterNearest Filter = 0
	FilterLinear  Filter = 1
)

type AddressMode int32

const (
	AddressRepeat         AddressMode = 0
	AddressMirroredRepeat AddressMode = 1
	AddressClampToEdge    AddressMode = 2
	AddressClampToBorder  AddressMode = 3
)

type SemaphoreType int32

const (
	SemaphoreBinary   SemaphoreType = 0
	SemaphoreTimeline SemaphoreType = 1
)

// CompareOp mirrors VkCompareOp.
type CompareOp int32

const (
	CompareNever       CompareOp = 0
	CompareLess        CompareOp = 1
	CompareEqual       CompareOp = 2
	CompareLessOrEqual CompareOp = 3
	CompareGreater     CompareOp = 4
	CompareAlways      CompareOp = 7
)

// WaitForever is the timeout that never expires.
const WaitForever = ^uint64(0)
